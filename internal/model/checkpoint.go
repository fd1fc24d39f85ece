package model

import "time"

// RunConfig is the configuration a batch was started with. It is stored in
// the checkpoint so a resumed run behaves identically.
type RunConfig struct {
	Strategy       string `json:"strategy"`
	CollectionID   string `json:"collection_id"`
	CollectionName string `json:"collection_name"`
}

// Checkpoint is the durable snapshot of an in-progress batch.
type Checkpoint struct {
	Queries   []string  `json:"queries"`
	NextIndex int       `json:"next_index"`
	Results   []Record  `json:"results"`
	Config    RunConfig `json:"config"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining returns the number of queries not yet processed.
func (c *Checkpoint) Remaining() int {
	if c.NextIndex >= len(c.Queries) {
		return 0
	}
	return len(c.Queries) - c.NextIndex
}
