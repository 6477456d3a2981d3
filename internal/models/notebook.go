package models

import (
	"sort"
	"time"

	"github.com/starford/notebridge/internal/apperr"
)

// UntitledNotebook replaces an empty upstream title.
const UntitledNotebook = "Untitled"

// Notebook is a node in the notebook forest. Children is populated only
// by BuildTree.
type Notebook struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	ParentID    string      `json:"parent_id,omitempty"`
	CreatedTime time.Time   `json:"created_time"`
	UpdatedTime time.Time   `json:"updated_time"`
	Children    []*Notebook `json:"children,omitempty"`
}

// BuildTree arranges a flat listing into a forest. Notebooks whose
// parent is not part of the listing become roots. A cycle in the parent
// chain is reported as an Internal failure. Siblings are ordered by
// title, then id.
func BuildTree(flat []Notebook) ([]*Notebook, error) {
	byID := make(map[string]*Notebook, len(flat))
	order := make([]string, 0, len(flat))
	for i := range flat {
		nb := flat[i]
		nb.Children = nil
		if nb.Title == "" {
			nb.Title = UntitledNotebook
		}
		if _, dup := byID[nb.ID]; !dup {
			order = append(order, nb.ID)
		}
		byID[nb.ID] = &nb
	}

	if err := checkCycles(byID); err != nil {
		return nil, err
	}

	var roots []*Notebook
	for _, id := range order {
		nb := byID[id]
		parent, ok := byID[nb.ParentID]
		if nb.ParentID == "" || !ok {
			roots = append(roots, nb)
			continue
		}
		parent.Children = append(parent.Children, nb)
	}

	sortForest(roots)
	return roots, nil
}

func checkCycles(byID map[string]*Notebook) error {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(byID))
	for id := range byID {
		var path []string
		cur := id
		for cur != "" {
			nb, ok := byID[cur]
			if !ok || state[cur] == done {
				break
			}
			if state[cur] == inProgress {
				return apperr.Errorf(apperr.Internal, "notebook hierarchy contains a cycle at %s", cur)
			}
			state[cur] = inProgress
			path = append(path, cur)
			cur = nb.ParentID
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return nil
}

func sortForest(nodes []*Notebook) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Title != nodes[j].Title {
			return nodes[i].Title < nodes[j].Title
		}
		return nodes[i].ID < nodes[j].ID
	})
	for _, n := range nodes {
		sortForest(n.Children)
	}
}

// FindNotebook searches a forest depth-first.
func FindNotebook(forest []*Notebook, id string) *Notebook {
	for _, n := range forest {
		if n.ID == id {
			return n
		}
		if found := FindNotebook(n.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// Flatten returns copies of every notebook in the forest, depth-first,
// with Children cleared.
func Flatten(forest []*Notebook) []*Notebook {
	out := []*Notebook{}
	var walk func([]*Notebook)
	walk = func(nodes []*Notebook) {
		for _, n := range nodes {
			cp := *n
			cp.Children = nil
			out = append(out, &cp)
			walk(n.Children)
		}
	}
	walk(forest)
	return out
}
