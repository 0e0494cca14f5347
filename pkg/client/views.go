package client

import "time"

// Client-side mirrors of the API's JSON views.

type Plan struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	State      string     `json:"state"`
	Generation uint64     `json:"generation"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Phases     []Phase    `json:"phases"`
}

type Phase struct {
	Name     string `json:"name"`
	PodGroup string `json:"pod_group"`
	Strategy string `json:"strategy"`
	State    string `json:"state"`
	Message  string `json:"message,omitempty"`
	Launched int    `json:"launched"`
	Ready    int    `json:"ready"`
}

type PodGroup struct {
	Name       string     `json:"name"`
	Desired    int        `json:"desired"`
	Active     int        `json:"active"`
	Generation uint64     `json:"generation"`
	Instances  []Instance `json:"instances"`
}

type Instance struct {
	ID         string         `json:"id"`
	State      string         `json:"state"`
	Readiness  string         `json:"readiness"`
	Node       string         `json:"node,omitempty"`
	Ports      map[string]int `json:"ports,omitempty"`
	Generation uint64         `json:"generation"`
	Error      string         `json:"error,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
