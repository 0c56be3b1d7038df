package models

import (
	"errors"
	"strings"
)

var (
	ErrMissingConversationID = errors.New("conversation id is required")
	ErrInvalidConfidence     = errors.New("confidence must be within [0, 1]")
)

// TurnEvent is one recognized caller utterance.
type TurnEvent struct {
	ConversationID string  `json:"conversation_id" form:"CallSid"`
	TenantID       string  `json:"tenant_id,omitempty"`
	RecognizedText string  `json:"recognized_text" form:"SpeechResult"`
	Confidence     float64 `json:"confidence" form:"Confidence"`
	PendingField   string  `json:"pending_field,omitempty"`
}

// Validate rejects events that must not reach the session state.
func (e *TurnEvent) Validate() error {
	if strings.TrimSpace(e.ConversationID) == "" {
		return ErrMissingConversationID
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return ErrInvalidConfidence
	}
	return nil
}

// TurnResult is the outcome of a turn.
type TurnResult struct {
	ReplyText         string `json:"reply_text"`
	ContinueListening bool   `json:"continue_listening"`
	Terminate         bool   `json:"terminate"`
	State             string `json:"state,omitempty"`
}
