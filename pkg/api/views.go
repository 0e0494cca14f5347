package api

import (
	"time"

	"github.com/seastack/bosun/pkg/types"
)

// Wire representations of the operator surface. Domain types stay
// transport-free; the shapes below are the JSON contract.

type planView struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	State      string      `json:"state"`
	Generation uint64      `json:"generation"`
	Error      string      `json:"error,omitempty"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Phases     []phaseView `json:"phases"`
}

type phaseView struct {
	Name     string `json:"name"`
	PodGroup string `json:"pod_group"`
	Strategy string `json:"strategy"`
	State    string `json:"state"`
	Message  string `json:"message,omitempty"`
	Launched int    `json:"launched"`
	Ready    int    `json:"ready"`
}

type podGroupView struct {
	Name       string         `json:"name"`
	Desired    int            `json:"desired"`
	Active     int            `json:"active"`
	Generation uint64         `json:"generation"`
	Instances  []instanceView `json:"instances"`
}

type instanceView struct {
	ID         string         `json:"id"`
	State      string         `json:"state"`
	Readiness  string         `json:"readiness"`
	Node       string         `json:"node,omitempty"`
	Ports      map[string]int `json:"ports,omitempty"`
	Generation uint64         `json:"generation"`
	Error      string         `json:"error,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func planStatus(p *types.Plan) planView {
	view := planView{
		ID:         p.ID,
		Name:       p.Name,
		State:      string(p.State),
		Generation: p.Generation,
		Error:      p.Error,
	}
	if !p.StartedAt.IsZero() {
		t := p.StartedAt
		view.StartedAt = &t
	}
	if !p.FinishedAt.IsZero() {
		t := p.FinishedAt
		view.FinishedAt = &t
	}
	for _, ph := range p.Phases {
		view.Phases = append(view.Phases, phaseView{
			Name:     ph.Name,
			PodGroup: ph.PodGroup,
			Strategy: string(ph.Strategy),
			State:    string(ph.State),
			Message:  ph.Message,
			Launched: ph.Launched,
			Ready:    ph.Ready,
		})
	}
	return view
}

func (s *Server) podGroup(group *types.PodGroupSpec) (podGroupView, error) {
	instances, err := s.mgr.Instances(group.Name)
	if err != nil {
		return podGroupView{}, err
	}
	view := podGroupView{
		Name:       group.Name,
		Desired:    group.Count,
		Generation: group.Generation,
		Instances:  make([]instanceView, 0, len(instances)),
	}
	for _, inst := range instances {
		if inst.State.Active() {
			view.Active++
		}
		view.Instances = append(view.Instances, instanceView{
			ID:         inst.ID,
			State:      string(inst.State),
			Readiness:  string(inst.Readiness),
			Node:       inst.NodeID,
			Ports:      inst.Ports,
			Generation: inst.Generation,
			Error:      inst.Error,
			UpdatedAt:  inst.UpdatedAt,
		})
	}
	return view, nil
}
