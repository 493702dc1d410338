package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task is a queued unit of work consumed by external workers. Args and
// Result are stored as JSON; the task type discriminates their shape.
type Task struct {
	ID             int64           `json:"id"`
	Type           TaskType        `json:"task_type"`
	Status         TaskStatus      `json:"status"`
	Args           json.RawMessage `json:"task_args"`
	Result         json.RawMessage `json:"result,omitempty"`
	Added          time.Time       `json:"added"`
	ProjectName    string          `json:"project_name"`
	VersionName    string          `json:"version_name"`
	RevisionNumber string          `json:"revision_number,omitempty"`
	ASFUID         string          `json:"asf_uid,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// VoteInitiateArgs is the payload of a vote_initiate task.
type VoteInitiateArgs struct {
	ReleaseName       string `json:"release_name"`
	EmailTo           string `json:"email_to"`
	VoteDuration      int    `json:"vote_duration"`
	InitiatorID       string `json:"initiator_id"`
	InitiatorFullname string `json:"initiator_fullname"`
	Subject           string `json:"subject"`
	Body              string `json:"body"`
}

// VoteInitiateResult is written by the vote-initiate worker on success.
type VoteInitiateResult struct {
	MID        string `json:"mid"`
	ArchiveURL string `json:"archive_url"`
}

// MessageSendArgs is the payload of a message_send task.
type MessageSendArgs struct {
	EmailSender    string `json:"email_sender"`
	EmailRecipient string `json:"email_recipient"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	InReplyTo      string `json:"in_reply_to,omitempty"`
}

// NewVoteInitiateTask builds a queued vote_initiate task.
func NewVoteInitiateTask(args VoteInitiateArgs, projectName, versionName, revisionNumber, asfUID string) (*Task, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode vote_initiate args: %w", err)
	}
	return &Task{
		Type:           TaskVoteInitiate,
		Status:         TaskQueued,
		Args:           raw,
		ProjectName:    projectName,
		VersionName:    versionName,
		RevisionNumber: revisionNumber,
		ASFUID:         asfUID,
	}, nil
}

// NewMessageSendTask builds a queued message_send task.
func NewMessageSendTask(args MessageSendArgs, projectName, versionName, asfUID string) (*Task, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message_send args: %w", err)
	}
	return &Task{
		Type:        TaskMessageSend,
		Status:      TaskQueued,
		Args:        raw,
		ProjectName: projectName,
		VersionName: versionName,
		ASFUID:      asfUID,
	}, nil
}

// VoteInitiateArgs decodes the task payload. It is an error to call this on
// a task of another type.
func (t *Task) VoteInitiateArgs() (*VoteInitiateArgs, error) {
	if t.Type != TaskVoteInitiate {
		return nil, fmt.Errorf("task %d is %s, not %s", t.ID, t.Type, TaskVoteInitiate)
	}
	var args VoteInitiateArgs
	if err := json.Unmarshal(t.Args, &args); err != nil {
		return nil, fmt.Errorf("failed to decode vote_initiate args: %w", err)
	}
	return &args, nil
}

// MessageSendArgs decodes the task payload. It is an error to call this on
// a task of another type.
func (t *Task) MessageSendArgs() (*MessageSendArgs, error) {
	if t.Type != TaskMessageSend {
		return nil, fmt.Errorf("task %d is %s, not %s", t.ID, t.Type, TaskMessageSend)
	}
	var args MessageSendArgs
	if err := json.Unmarshal(t.Args, &args); err != nil {
		return nil, fmt.Errorf("failed to decode message_send args: %w", err)
	}
	return &args, nil
}

// VoteInitiateResult decodes the task result, or returns nil when the task
// has no result yet.
func (t *Task) VoteInitiateResult() (*VoteInitiateResult, error) {
	if len(t.Result) == 0 {
		return nil, nil
	}
	var result VoteInitiateResult
	if err := json.Unmarshal(t.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode vote_initiate result: %w", err)
	}
	return &result, nil
}
