package poll

import (
	"time"
)

// OptionCount is the fixed number of options on every poll.
const OptionCount = 12

// Scores holds one weighted score per option, index 0 is option 1.
type Scores [OptionCount]float64

// State is the lifecycle state of the controller's poll.
type State int

const (
	StateAbsent State = iota
	StateStarting
	StateRunning
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// Poll is the single active poll, owned by the controller goroutine.
type Poll struct {
	ID        string
	GuildID   string
	ChannelID string
	MessageID string
	ThreadID  string
	Labels    [OptionCount]string
	EndTime   time.Time
	Winners   map[int]bool // 1-based option numbers

	live      reactors
	cancelSub func()
}

func newPoll(id, guildID, channelID string, labels [OptionCount]string, end time.Time) *Poll {
	return &Poll{
		ID:        id,
		GuildID:   guildID,
		ChannelID: channelID,
		Labels:    labels,
		EndTime:   end,
		Winners:   make(map[int]bool),
		live:      newReactors(),
	}
}

// Running reports whether the poll accepts votes at now.
func (p *Poll) Running(now time.Time) bool {
	return now.Before(p.EndTime)
}

// reactors indexes who currently reacts with each option's marker.
type reactors [OptionCount]map[string]struct{}

func newReactors() reactors {
	var r reactors
	for i := range r {
		r[i] = make(map[string]struct{})
	}
	return r
}

// optionsOf returns the 0-based options userID currently reacts with.
func (r *reactors) optionsOf(userID string) []int {
	var out []int
	for i := range r {
		if _, ok := r[i][userID]; ok {
			out = append(out, i)
		}
	}
	return out
}

func (r *reactors) add(i int, userID string)    { r[i][userID] = struct{}{} }
func (r *reactors) remove(i int, userID string) { delete(r[i], userID) }

// ActivePoll is the persisted metadata needed to resume a poll.
type ActivePoll struct {
	PollID    string
	GuildID   string
	ChannelID string
	MessageID string
	ThreadID  string
	EndTime   time.Time
}

// ResultRow is one option's persisted label and score.
type ResultRow struct {
	Option     int // 1-based
	Label      string
	Score      float64
	SelectedAt *time.Time
}

// VoteRecord is a participant's current choice. One per (poll, user).
type VoteRecord struct {
	PollID    string
	GuildID   string
	UserID    string
	Username  string
	Option    int // 1-based
	Weight    float64
	UpdatedAt time.Time
}

// ExternalVote is a vote cast on the website; it counts 1.0.
type ExternalVote struct {
	VoterID string
	Option  int // 1-based
	CastAt  time.Time
}

// StartRequest asks the controller to open a new poll.
type StartRequest struct {
	Labels   []string
	Duration time.Duration
}

// Snapshot is a read-only view of the controller for callers outside the actor.
type Snapshot struct {
	PollID  string
	State   State
	Labels  [OptionCount]string
	EndTime time.Time
	Winners []int
	Scores  Scores
}
