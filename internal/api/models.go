package api

import "time"

type initSessionRequest struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type initSessionResponse struct {
	Success     bool   `json:"success"`
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	QRCode      string `json:"qrCode,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type statusResponse struct {
	Success     bool   `json:"success"`
	Exists      bool   `json:"exists"`
	Status      string `json:"status"`
	QRCode      string `json:"qrCode,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	IsReady     bool   `json:"isReady"`
}

type listEntry struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type listResponse struct {
	Success  bool        `json:"success"`
	Sessions []listEntry `json:"sessions"`
	Count    int         `json:"count"`
}

type destroyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type sendTextRequest struct {
	SessionID string `json:"sessionId"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

type sendMediaRequest struct {
	SessionID string `json:"sessionId"`
	Recipient string `json:"recipient"`
	MediaURL  string `json:"mediaUrl"`
	Caption   string `json:"caption"`
	MediaType string `json:"mediaType"`
}

type sendResponse struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}
