package templates

//go:generate templ generate

import (
	"encoding/json"
	"fmt"

	"github.com/a-h/templ"
)

type DashboardProps struct {
	Title          string
	MaxUploadBytes int64
	QAEnabled      bool
	// DatasetID is the report shown on load; "latest" when empty.
	DatasetID string
}

func Dashboard(props DashboardProps) templ.Component {
	if props.Title == "" {
		props.Title = "Client Revenue & Churn"
	}
	if props.DatasetID == "" {
		props.DatasetID = "latest"
	}
	return page(props)
}

type dashboardSignals struct {
	DatasetID        string   `json:"datasetId"`
	Question         string   `json:"question"`
	MaxContextTokens int      `json:"maxContextTokens"`
	Asking           bool     `json:"asking"`
	Summary          struct{} `json:"summary"`
}

// signals is the initial Datastar signal store of the page.
func signals(p DashboardProps) (string, error) {
	b, err := json.Marshal(dashboardSignals{DatasetID: p.DatasetID, MaxContextTokens: 2000})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func uploadLimit(p DashboardProps) string {
	return fmt.Sprintf("%d MB", max(p.MaxUploadBytes>>20, 1))
}
