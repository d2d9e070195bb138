package models

import (
	"gorm.io/gorm"
)

func (s *Site) AfterCreate(tx *gorm.DB) (err error) {
	if err := SaveHistoryCreate(tx, s.ID, s, "Created Site "+s.Name); err != nil {
		return err
	}
	if err := s.RemoveAllRedis(); err != nil {
		return err
	}

	return nil
}

func (s *Site) BeforeUpdate(tx *gorm.DB) (err error) {
	if err := SaveHistoryUpdate(tx, s.ID, s, "Updated Site"); err != nil {
		return err
	}
	if err := RemoveRedisBoth(*s); err != nil {
		return err
	}

	return nil
}

func (s *Site) AfterDelete(tx *gorm.DB) (err error) {
	if err := SaveHistoryDelete(tx, s.ID, s, "Deleted Site"); err != nil {
		return err
	}
	if err := RemoveRedisBoth(*s); err != nil {
		return err
	}

	return nil
}

func (i *Inspection) AfterCreate(tx *gorm.DB) (err error) {
	if err := SaveHistoryCreate(tx, i.ID, i, "Created Inspection "+i.ReportNumber); err != nil {
		return err
	}

	return nil
}

func (i *Inspection) BeforeUpdate(tx *gorm.DB) (err error) {
	if err := SaveHistoryUpdate(tx, i.ID, i, "Updated Inspection"); err != nil {
		return err
	}

	return nil
}

func (i *Inspection) AfterDelete(tx *gorm.DB) (err error) {
	if err := SaveHistoryDelete(tx, i.ID, i, "Deleted Inspection"); err != nil {
		return err
	}

	return nil
}

func (d *Defect) AfterCreate(tx *gorm.DB) (err error) {
	if err := SaveHistoryCreate(tx, d.ID, d, "Created Defect "+d.EquipmentItem); err != nil {
		return err
	}

	return nil
}

func (d *Defect) BeforeUpdate(tx *gorm.DB) (err error) {
	if err := SaveHistoryUpdate(tx, d.ID, d, "Updated Defect"); err != nil {
		return err
	}

	return nil
}

func (d *Defect) AfterDelete(tx *gorm.DB) (err error) {
	// batch deletes run the hook once with an empty row
	if d.ID == 0 {
		return nil
	}
	if err := SaveHistoryDelete(tx, d.ID, d, "Deleted Defect"); err != nil {
		return err
	}

	return nil
}
