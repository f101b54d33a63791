package world

import "errors"

// Placement errors. A rejected region is never partially created.
var (
	ErrEmptyName       = errors.New("region name is empty")
	ErrInvalidName     = errors.New("region name contains whitespace")
	ErrDuplicateName   = errors.New("region name already exists")
	ErrOutsideViewport = errors.New("region must lie inside the viewport")
	ErrOverlap         = errors.New("region overlaps an existing region")
	ErrCapacity        = errors.New("region capacity out of range")
)

// Operation errors.
var (
	ErrUnknownRegion      = errors.New("unknown region")
	ErrInvalidInfectCount = errors.New("infect count must be positive and within capacity")
	ErrInvalidAmount      = errors.New("flow amount must be positive")
	ErrSelfFlow           = errors.New("flow source and destination are the same region")
	ErrUnknownAgent       = errors.New("agent not found in region")
)
