package models

// SessionDescription is the SDP half of an offer/answer exchange as it
// appears on the wire.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the browser's RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

// OfferRequest is the body of POST /signal.
type OfferRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
	SDP      string `json:"sdp" binding:"required"`
}

// CandidateRequest is the body of POST /signal/candidate.
type CandidateRequest struct {
	DeviceID  string       `json:"deviceId" binding:"required"`
	Candidate ICECandidate `json:"candidate"`
}

// PollResponse is the body of GET /signal. Answer fields sit at the top
// level so a client can treat the poll result as a session description
// directly; candidates are present only when the mailbox had any queued.
type PollResponse struct {
	Type       string         `json:"type,omitempty"`
	SDP        string         `json:"sdp,omitempty"`
	Candidates []ICECandidate `json:"candidates,omitempty"`
}

// SessionInfo is one row of the admin session listing.
type SessionInfo struct {
	DeviceID     string `json:"deviceId"`
	ConnectionID string `json:"connectionId"`
	State        string `json:"state"`
	CreatedAt    string `json:"createdAt"`
}
