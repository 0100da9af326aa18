package models

import (
	"eventmarket/server/internal/utils"
)

type IBase interface {
	GenIDIfEmpty()
	GenID()
	SetID(id utils.SixID)
}

// Base carries the identity shared by every stored entity.
type Base struct {
	ID utils.SixID `json:"id"`
}

func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}

func (m *Base) GenID() {
	m.ID = utils.NewSixID()
}

func (m *Base) SetID(id utils.SixID) {
	m.ID = id
}

func NewBase() Base {
	return Base{
		ID: utils.NewSixID(),
	}
}
