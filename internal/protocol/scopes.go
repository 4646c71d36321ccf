package protocol

// Scopes.
const (
	ScopeCanvas  = "canvas"
	ScopeChat    = "chat"
	ScopeEvent   = "event"
	ScopePowerUp = "powerUp"
	ScopeNFT     = "nft"
)

// Intents (view -> model).
const (
	IntentSetPixel        = "setPixel"
	IntentSendMessage     = "sendMessage"
	IntentTriggerEvent    = "triggerEvent"
	IntentBuyPowerUp      = "buyPowerUp"
	IntentActivatePowerUp = "activatePowerUp"
	IntentMintNFT         = "mintNFT"
)

// Broadcasts (model -> views).
const (
	BroadcastPixelsUpdated    = "pixelsUpdated"
	BroadcastStatsUpdated     = "statsUpdated"
	BroadcastNewMessage       = "newMessage"
	BroadcastEventStart       = "eventStart"
	BroadcastEventUpdate      = "eventUpdate"
	BroadcastEventEnd         = "eventEnd"
	BroadcastPowerUpUpdate    = "powerUpUpdate"
	BroadcastPowerUpActivated = "powerUpActivated"
	BroadcastNFTMinted        = "nftMinted"
)

// Route names a (scope, name) pair.
type Route struct {
	Scope string
	Name  string
}

func (r Route) String() string { return r.Scope + "." + r.Name }

// Intents lists every route a view may publish.
var Intents = []Route{
	{ScopeCanvas, IntentSetPixel},
	{ScopeChat, IntentSendMessage},
	{ScopeEvent, IntentTriggerEvent},
	{ScopePowerUp, IntentBuyPowerUp},
	{ScopePowerUp, IntentActivatePowerUp},
	{ScopeNFT, IntentMintNFT},
}
