package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type ExportType string

const (
	ExportTypeInspectionReport ExportType = "inspection_report"
	ExportTypeClaimsPack       ExportType = "claims_pack"
	ExportTypeMaintenanceLog   ExportType = "maintenance_log"
)

// convert enum to send response
func (t ExportType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

// convert input to enum type
func (t *ExportType) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("export type must be string")
	}
	parsed, perr := ParseExportType(str)
	if perr != nil {
		return perr
	}
	*t = parsed
	return nil
}

// ParseExportType validates a raw string (API body, Pub/Sub payload) against
// the closed set of export types before any content work starts.
func ParseExportType(str string) (ExportType, error) {
	exportTypes := map[string]ExportType{
		"inspection_report": ExportTypeInspectionReport,
		"claims_pack":       ExportTypeClaimsPack,
		"maintenance_log":   ExportTypeMaintenanceLog,
	}
	t, ok := exportTypes[str]
	if !ok {
		return "", errors.New("invalid export type")
	}
	return t, nil
}

type InspectionType string

const (
	InspectionTypeRoutineVisual InspectionType = "RoutineVisual"
	InspectionTypeOperational   InspectionType = "Operational"
	InspectionTypeAnnualMain    InspectionType = "AnnualMain"
)

func (t InspectionType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

func (t *InspectionType) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("inspection type must be string")
	}
	switch str {
	case "RoutineVisual":
		*t = InspectionTypeRoutineVisual
	case "Operational":
		*t = InspectionTypeOperational
	case "AnnualMain":
		*t = InspectionTypeAnnualMain
	default:
		return errors.New("invalid inspection type")
	}
	return nil
}

type InspectionStatus string

const (
	InspectionStatusDraft     InspectionStatus = "Draft"
	InspectionStatusCompleted InspectionStatus = "Completed"
)

func (s InspectionStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(s))), nil
}

func (s *InspectionStatus) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("inspection status must be string")
	}

	inspectionStatus := map[string]InspectionStatus{
		"Draft":     InspectionStatusDraft,
		"Completed": InspectionStatusCompleted,
	}

	status, ok := inspectionStatus[str]
	if !ok {
		return errors.New("invalid inspection status")
	}
	*s = status
	return nil
}

type RiskRating string

const (
	RiskRatingLow      RiskRating = "Low"
	RiskRatingMedium   RiskRating = "Medium"
	RiskRatingHigh     RiskRating = "High"
	RiskRatingVeryHigh RiskRating = "Very High"
)

func (r RiskRating) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(r))), nil
}

func (r *RiskRating) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("risk rating must be string")
	}
	// Allow blank (unset) for draft inspections.
	if str == "" {
		*r = ""
		return nil
	}

	riskRating := map[string]RiskRating{
		"Low":       RiskRatingLow,
		"Medium":    RiskRatingMedium,
		"High":      RiskRatingHigh,
		"Very High": RiskRatingVeryHigh,
	}

	rating, ok := riskRating[str]
	if !ok {
		return errors.New("invalid risk rating")
	}
	*r = rating
	return nil
}

type DefectStatus string

const (
	DefectStatusOpen       DefectStatus = "Open"
	DefectStatusMonitoring DefectStatus = "Monitoring"
	DefectStatusRemediated DefectStatus = "Remediated"
)

func (s DefectStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(s))), nil
}

func (s *DefectStatus) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("defect status must be string")
	}

	defectStatus := map[string]DefectStatus{
		"Open":       DefectStatusOpen,
		"Monitoring": DefectStatusMonitoring,
		"Remediated": DefectStatusRemediated,
	}

	status, ok := defectStatus[str]
	if !ok {
		return errors.New("invalid defect status")
	}
	*s = status
	return nil
}

type UserRole string

const (
	UserRoleAdmin     UserRole = "A"
	UserRoleManager   UserRole = "M"
	UserRoleInspector UserRole = "I"
)

func (p UserRole) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(p))), nil
}

func (p *UserRole) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("user role must be string")
	}

	userRole := map[string]UserRole{
		"A": UserRoleAdmin,
		"M": UserRoleManager,
		"I": UserRoleInspector,
	}

	role, ok := userRole[str]
	if !ok {
		return errors.New("invalid user role")
	}
	*p = role
	return nil
}

type SealEventAction string

const (
	SealEventActionSealed     SealEventAction = "S"
	SealEventActionTombstoned SealEventAction = "T"
)

func (t SealEventAction) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

func (t *SealEventAction) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("seal event action must be string")
	}
	switch str {
	case "S":
		*t = SealEventActionSealed
	case "T":
		*t = SealEventActionTombstoned
	default:
		return errors.New("invalid seal event action")
	}
	return nil
}

type AttachmentKind string

const (
	AttachmentKindPhoto    AttachmentKind = "Photo"
	AttachmentKindDocument AttachmentKind = "Document"
)

func (t AttachmentKind) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(t))), nil
}

func (t *AttachmentKind) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("attachment kind must be string")
	}
	switch str {
	case "Photo":
		*t = AttachmentKindPhoto
	case "Document":
		*t = AttachmentKindDocument
	default:
		return errors.New("invalid attachment kind")
	}
	return nil
}

type MyDateString time.Time

func (t MyDateString) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Time(t).Format("2006-01-02T15:04:05"))), nil
}

// Parse the string into time.Time object
func (t *MyDateString) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("MyDateString must be string")
	}

	// Parse the date string into a time.Time object
	localTime, perr := time.Parse("2006-01-02T15:04:05", str)
	if perr != nil {
		return errors.New("error parsing datetime")
	}
	*t = MyDateString(localTime)

	return nil
}

func (t *MyDateString) StartOfDayUTCTime(timezone string) error {
	// do nothing if the pointer is nil
	if t == nil {
		return nil
	}

	localTime := time.Time(*t)

	if timezone == "" {
		timezone = "Europe/London"
	}

	// Load the location for the given timezone
	location, err := time.LoadLocation(timezone)
	if err != nil {
		fmt.Println("Error loading location:", err)
		return err
	}

	// Convert the start of the day local time to the specified timezone
	localTimeInZone := time.Date(
		localTime.Year(), localTime.Month(), localTime.Day(),
		0, 0, 0, 0,
		location,
	)

	// Convert the time to UTC
	utcTime := localTimeInZone.In(time.UTC)
	*t = MyDateString(utcTime)

	return nil
}

func (t *MyDateString) EndOfDayUTCTime(timezone string) error {
	// do nothing if the pointer is nil
	if t == nil {
		return nil
	}

	localTime := time.Time(*t)

	if timezone == "" {
		timezone = "Europe/London"
	}

	// Load the location for the given timezone
	location, err := time.LoadLocation(timezone)
	if err != nil {
		fmt.Println("Error loading location:", err)
		return err
	}

	// Convert the end of the day local time to the specified timezone
	localTimeInZone := time.Date(
		localTime.Year(), localTime.Month(), localTime.Day(),
		23, 59, 59, 999, // Max nanoseconds
		location,
	)

	// Convert the time to UTC
	utcTime := localTimeInZone.In(time.UTC)
	*t = MyDateString(utcTime)

	return nil
}

// Value implements the driver.Valuer interface
func (t MyDateString) Value() (driver.Value, error) {
	return time.Time(t), nil
}

// Scan implements the sql.Scanner interface
func (t *MyDateString) Scan(value interface{}) error {
	if value == nil {
		*t = MyDateString(time.Time{})
		return nil
	}
	switch v := value.(type) {
	case time.Time:
		*t = MyDateString(v)
	default:
		return fmt.Errorf("cannot convert %T to MyDateString", value)
	}
	return nil
}

func (t *MyDateString) SetDefaultNowIfNil() *MyDateString {
	if t == nil {
		now := MyDateString(time.Now())
		return &now
	}
	return t
}
