package protocol

type PlayerStat struct {
	PixelsPlaced int64 `json:"pixelsPlaced"`
}

type LeaderboardEntry struct {
	Player       string `json:"player"`
	PixelsPlaced int64  `json:"pixelsPlaced"`
}

type StatsUpdated struct {
	PlayerStats map[string]PlayerStat `json:"playerStats"`
	TotalPixels int64                 `json:"totalPixels"`
	Leaderboard []LeaderboardEntry    `json:"leaderboard"`
}

// EventDescriptor is the eventStart payload.
type EventDescriptor struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Duration    int64  `json:"duration"`
	Color       string `json:"color"`
	Multiplier  int    `json:"multiplier,omitempty"`
	Effect      string `json:"effect,omitempty"`
	StartedAt   int64  `json:"startedAt"`
}

type EventUpdate struct {
	TimeLeft int64 `json:"timeLeft"`
}

type EventEnd struct{}

type OwnedPowerUp struct {
	Quantity int   `json:"quantity"`
	LastUsed int64 `json:"lastUsed"`
}

type PowerUpUpdate struct {
	Player       string                  `json:"player"`
	UserPowerUps map[string]OwnedPowerUp `json:"userPowerUps"`
	Charges      map[string]int          `json:"charges,omitempty"`
	Active       map[string]int64        `json:"active"`
}

type PowerUpDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Duration    int64  `json:"duration,omitempty"`
	Uses        int    `json:"uses,omitempty"`
	Cost        int64  `json:"cost"`
	Cooldown    int64  `json:"cooldown,omitempty"`
	Color       string `json:"color"`
}

type PowerUpActivated struct {
	PowerUpType     string            `json:"powerUpType"`
	PlayerAddress   string            `json:"playerAddress"`
	PowerUp         PowerUpDescriptor `json:"powerUp"`
	ExpiresAt       int64             `json:"expiresAt,omitempty"`
	ProtectedPixels []int             `json:"protectedPixels,omitempty"`
}
