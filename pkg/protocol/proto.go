package protocol

import (
	"encoding/json"
	"time"

	"github.com/ManouchehrRasoulli/fsevents/internal"
)

type Type int64

const (
	Join Type = iota + 1
	AckJoin
	Subscribe
	AckSubscribe
	BatchNotify
	RequestReplay
	ResponseReplay
)

func (t Type) String() string {
	switch t {
	case Join:
		return "join"
	case AckJoin:
		return "ack-join"
	case Subscribe:
		return "subscribe"
	case AckSubscribe:
		return "ack-subscribe"
	case BatchNotify:
		return "batch-notify"
	case RequestReplay:
		return "request-replay"
	case ResponseReplay:
		return "response-replay"
	}
	return "unknown"
}

/*
	A  <------------------------ Join               B
	A  Ack Join ------------------------------------> B
	A  <------------------------ Subscribe          B
	A  Ack Subscribe -------------------------------> B
	A  Batch Notify (per delivered batch) ----------> B
	A  <------------------------ Request Replay     B
	A  Response Replay -----------------------------> B
*/

// Data
// General communication frame in given protocol
type Data struct {
	Sec     uint64                 `json:"sc"`
	Time    time.Time              `json:"t"`
	Type    Type                   `json:"tp"`
	Heading map[string]interface{} `json:"h"`
	Payload json.RawMessage        `json:"p"`
}

type JoinPayload struct {
	Username string `json:"u"`
	Password string `json:"pw"`
}

type AckJoinPayload struct {
	Ok      bool   `json:"ok"`
	Msg     string `json:"m"`
	Session string `json:"s"`
}

// SubscribePayload
// an empty Roots list subscribes to every watched root. With Replay set the
// journaled batches after Since are sent ahead of the live ones.
type SubscribePayload struct {
	Roots  []string `json:"r"`
	Replay bool     `json:"rp"`
	Since  uint64   `json:"s"`
}

type AckSubscribePayload struct {
	Ok    bool     `json:"ok"`
	Msg   string   `json:"m"`
	Roots []string `json:"r"`
	Last  uint64   `json:"l"`
}

type BatchPayload struct {
	Seq   uint64                `json:"sq"`
	Root  string                `json:"r"`
	Time  time.Time             `json:"t"`
	Types []internal.ChangeType `json:"tp"`
	Paths []string              `json:"p"`
}

type batchJSON BatchPayload

// MarshalJSON keeps root and paths byte exact, file names need not be UTF-8.
func (b BatchPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		batchJSON
		Root  internal.Path  `json:"r"`
		Paths internal.Paths `json:"p"`
	}{
		batchJSON: batchJSON(b),
		Root:      internal.Path(b.Root),
		Paths:     b.Paths,
	})
}

func (b *BatchPayload) UnmarshalJSON(data []byte) error {
	aux := struct {
		*batchJSON
		Root  internal.Path  `json:"r"`
		Paths internal.Paths `json:"p"`
	}{
		batchJSON: (*batchJSON)(b),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	b.Root = string(aux.Root)
	b.Paths = aux.Paths
	return nil
}

type RequestReplayPayload struct {
	Since uint64 `json:"s"`
	Limit int    `json:"l"`
}

type ResponseReplayPayload struct {
	Batches []BatchPayload `json:"b"`
	Last    uint64         `json:"l"`
	Msg     string         `json:"m"`
}
