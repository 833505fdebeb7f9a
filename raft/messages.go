package raft

// Message is implemented by the four RPC shapes the role machine sends
// and receives. Universal pre-processing only needs the term and the
// request id off of any message, so those are the only accessors the
// interface requires.
type Message interface {
	MessageRequestId() RequestId
	MessageTerm() TermIndex
	MessageFrom() ServerId
	MessageTo() ServerId
}

// RequestVote is sent by a Candidate to every other server when it
// starts an election.
type RequestVote struct {
	RequestId    RequestId
	From         ServerId
	To           ServerId
	Term         TermIndex
	LastLogIndex LogIndex
	LastLogTerm  TermIndex
}

func (m RequestVote) MessageRequestId() RequestId { return m.RequestId }
func (m RequestVote) MessageTerm() TermIndex      { return m.Term }
func (m RequestVote) MessageFrom() ServerId       { return m.From }
func (m RequestVote) MessageTo() ServerId         { return m.To }

// Vote is the reply to a RequestVote.
type Vote struct {
	RequestId   RequestId
	From        ServerId
	To          ServerId
	Term        TermIndex
	VoteGranted bool
}

func (m Vote) MessageRequestId() RequestId { return m.RequestId }
func (m Vote) MessageTerm() TermIndex      { return m.Term }
func (m Vote) MessageFrom() ServerId       { return m.From }
func (m Vote) MessageTo() ServerId         { return m.To }

// AppendEntries is sent by the Leader, both as a heartbeat (Entries
// empty) and to replicate log entries.
type AppendEntries struct {
	RequestId    RequestId
	From         ServerId
	To           ServerId
	Term         TermIndex
	PrevLogIndex LogIndex
	PrevLogTerm  TermIndex
	Entries      []LogEntry
	LeaderCommit LogIndex
}

func (m AppendEntries) MessageRequestId() RequestId { return m.RequestId }
func (m AppendEntries) MessageTerm() TermIndex      { return m.Term }
func (m AppendEntries) MessageFrom() ServerId       { return m.From }
func (m AppendEntries) MessageTo() ServerId         { return m.To }

// AppendEntriesAck is the reply to an AppendEntries.
type AppendEntriesAck struct {
	RequestId RequestId
	From      ServerId
	To        ServerId
	Term      TermIndex
	Success   bool
}

func (m AppendEntriesAck) MessageRequestId() RequestId { return m.RequestId }
func (m AppendEntriesAck) MessageTerm() TermIndex      { return m.Term }
func (m AppendEntriesAck) MessageFrom() ServerId       { return m.From }
func (m AppendEntriesAck) MessageTo() ServerId         { return m.To }
