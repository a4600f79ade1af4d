// Package shotdata holds the base payload used to create shots through the
// API and the row details the UI is expected to show for them.
package shotdata

import (
	"strconv"
)

// Payload is the body of POST /api/shots without the name, which is
// generated per run.
type Payload struct {
	SequenceID       int      `json:"sequenceId"`
	EpisodeID        int      `json:"episodeId"`
	Type             string   `json:"type"`
	TaskTypeID       int      `json:"taskTypeId"`
	ActualStartFrame int      `json:"actualStartFrame"`
	ActualEndFrame   int      `json:"actualEndFrame"`
	WorkStartFrame   int      `json:"workStartFrame"`
	WorkEndFrame     int      `json:"workEndFrame"`
	ETA              string   `json:"eta"`
	InternalETA      string   `json:"internalEta"`
	WipETA           string   `json:"wipEta"`
	StartDate        string   `json:"startDate"`
	EndDate          string   `json:"endDate"`
	SubmittedDate    string   `json:"submittedDate"`
	EstimateID       string   `json:"estimateId"`
	EstimateDate     string   `json:"estimateDate"`
	PendingMandays   float64  `json:"pendingMandays"`
	AchievedMandays  float64  `json:"achievedMandays"`
	InternalBidDays  float64  `json:"internalBidDays"`
	ActualBidDays    float64  `json:"actualBidDays"`
	InputPath        string   `json:"inputPath"`
	RetakePath       string   `json:"retakePath"`
	OutputPath       string   `json:"outputPath"`
	ImgSrcPath       string   `json:"imgSrcPath"`
	Comments         string   `json:"comments"`
	Description      string   `json:"description"`
	Version          string   `json:"version"`
	NamingCheck      bool     `json:"namingCheck"`
	PackageID        string   `json:"packageId"`
	ScopeOfWork      string   `json:"scopeOfWork"`
	ComplexityID     int      `json:"complexityId"`
	LocationID       int      `json:"locationId"`
	ParentShotID     *int     `json:"parentShotId"`
	SupervisorID     int      `json:"supervisorId"`
	TeamLeadID       int      `json:"teamLeadId"`
	CaptainID        int      `json:"captainId"`
	HodID            int      `json:"hodId"`
	ShotStatusID     int      `json:"shotStatusId"`
	ArtistInfos      []string `json:"artistInfos"`
	Artists          []string `json:"artists"`
}

// NewShotPayload returns the base payload for a new, unassigned shot.
func NewShotPayload() Payload {
	return Payload{
		SequenceID:       8,
		EpisodeID:        5,
		Type:             "NEW",
		TaskTypeID:       7,
		ActualStartFrame: 1300,
		ActualEndFrame:   1600,
		WorkStartFrame:   1350,
		WorkEndFrame:     1450,
		ETA:              "2026-02-24T06:39:00.000Z",
		InternalETA:      "2026-02-23T06:39:00.000Z",
		WipETA:           "2026-02-17T06:39:00.000Z",
		StartDate:        "2026-02-04T18:30:00.000Z",
		EndDate:          "2026-02-27T18:30:00.000Z",
		InternalBidDays:  3,
		ActualBidDays:    14,
		InputPath:        "download/inputpath",
		Comments:         "TESTING DESCRIPTION - after lunch",
		Description:      "TESTING DESCRIPTION",
		ComplexityID:     3,
		LocationID:       4,
		HodID:            28,
		ArtistInfos:      []string{},
		Artists:          []string{},
	}
}

// RowDetails are the values a shot table row must contain. Empty fields are
// not checked.
type RowDetails struct {
	Type       string
	Status     string
	HOD        string
	Complexity string
	StartFrame int
	EndFrame   int
}

// Expected lists the non-empty values in column order.
func (d RowDetails) Expected() []string {
	var out []string
	for _, s := range []string{d.Type, d.Status, d.HOD, d.Complexity} {
		if s != "" {
			out = append(out, s)
		}
	}
	if d.StartFrame != 0 {
		out = append(out, strconv.Itoa(d.StartFrame))
	}
	if d.EndFrame != 0 {
		out = append(out, strconv.Itoa(d.EndFrame))
	}
	return out
}

// NewShotRow is what the shot table shows right after creation from
// NewShotPayload, given the HOD display name and complexity label.
func NewShotRow(p Payload, hod, complexity string) RowDetails {
	return RowDetails{
		Type:       p.Type,
		Status:     "YTA",
		HOD:        hod,
		Complexity: complexity,
		StartFrame: p.ActualStartFrame,
		EndFrame:   p.ActualEndFrame,
	}
}
