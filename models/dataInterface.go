package models

import (
	"time"

	"bitbucket.org/safeplayhq/inspect_backend/utils"
)

type Identifier interface {
	GetId() int
}

// interface for dataloader result
type Data interface {
	Identifier
	GetDefault(int) Data
}

// key
func (s Site) GetId() int {
	return s.ID
}

func (s Site) GetDefault(id int) Data {
	return Site{
		ID:        id,
		IsActive:  utils.NewFalse(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (u User) GetId() int {
	return u.ID
}

func (u User) GetDefault(id int) Data {
	return User{
		ID:        id,
		Role:      UserRoleInspector,
		IsActive:  utils.NewFalse(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (i Inspection) GetDefault(id int) Data {
	return Inspection{
		ID:             id,
		Status:         InspectionStatusDraft,
		InspectionDate: time.Now(),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func (d Defect) GetDefault(id int) Data {
	return Defect{
		ID:        id,
		Status:    DefectStatusOpen,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (a Attachment) GetDefault(id int) Data {
	return Attachment{
		ID:        id,
		CreatedAt: time.Now(),
	}
}

// loader loading more than one model by one id
type RelatedData interface {
	GetReferenceId() int
}

func (d Defect) GetReferenceId() int {
	return d.InspectionId
}

func (a Attachment) GetReferenceId() int {
	return a.ReferenceID
}
