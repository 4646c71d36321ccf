package protocol

import "encoding/json"

type SetPixel struct {
	Index  int    `json:"index"`
	Color  string `json:"color"`
	Player string `json:"player,omitempty"`
}

type ChatMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp int64  `json:"timestamp"`
}

// TriggerEvent starts a world event. An empty Type asks the model to pick one.
// Config is accepted for compatibility; the catalog is authoritative.
type TriggerEvent struct {
	Type   string          `json:"type,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// BuyPowerUp.Cost is what the view displayed; the model charges the catalog cost.
type BuyPowerUp struct {
	PowerUpType   string `json:"powerUpType"`
	PlayerAddress string `json:"playerAddress"`
	Cost          int64  `json:"cost,omitempty"`
}

type ActivatePowerUp struct {
	PowerUpType   string          `json:"powerUpType"`
	PlayerAddress string          `json:"playerAddress"`
	Config        json.RawMessage `json:"config,omitempty"`
}

type NFTMint struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ImageData   string `json:"imageData,omitempty"`
	Creator     string `json:"creator"`
	MintedAt    int64  `json:"mintedAt"`
	MetadataURL string `json:"metadataUrl,omitempty"`
	TxHash      string `json:"txHash,omitempty"`
}
