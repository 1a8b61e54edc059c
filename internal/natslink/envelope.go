package natslink

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/runtime"
)

// sampleEnvelope is the wire form of a sample crossing the mesh.
type sampleEnvelope struct {
	Key        string `msgpack:"k"`
	Payload    []byte `msgpack:"p,omitempty"`
	Encoding   string `msgpack:"e,omitempty"`
	Kind       int    `msgpack:"d"`
	Timestamp  int64  `msgpack:"t"`
	Seq        uint64 `msgpack:"s"`
	Priority   int    `msgpack:"pr,omitempty"`
	Congestion int    `msgpack:"cc,omitempty"`
	Express    bool   `msgpack:"x,omitempty"`
	Attachment []byte `msgpack:"a,omitempty"`
	Origin     string `msgpack:"o"`
}

// queryEnvelope carries a query to remote engines. ReplyTo names the
// subject the querier listens on for this query's replies.
type queryEnvelope struct {
	ID         string `msgpack:"i"`
	Selector   string `msgpack:"sel"`
	Payload    []byte `msgpack:"p,omitempty"`
	Encoding   string `msgpack:"e,omitempty"`
	Attachment []byte `msgpack:"a,omitempty"`
	TimeoutMS  int64  `msgpack:"tm"`
	Target     int    `msgpack:"tg,omitempty"`
	Origin     string `msgpack:"o"`
	ReplyTo    string `msgpack:"r"`
}

// replyEnvelope carries one reply, or the responder's end-of-contribution
// marker when Done is set.
type replyEnvelope struct {
	ID     string          `msgpack:"i"`
	Done   bool            `msgpack:"f,omitempty"`
	Sample *sampleEnvelope `msgpack:"s,omitempty"`
	Origin string          `msgpack:"o"`
}

func encodeSample(s runtime.Sample) ([]byte, error) {
	env := sampleToEnvelope(s)
	return msgpack.Marshal(&env)
}

func sampleToEnvelope(s runtime.Sample) sampleEnvelope {
	return sampleEnvelope{
		Key:        s.KeyExpr,
		Payload:    s.Payload,
		Encoding:   s.Encoding,
		Kind:       int(s.Kind),
		Timestamp:  s.Timestamp.UnixNano(),
		Seq:        s.Seq,
		Priority:   int(s.QoS.Priority),
		Congestion: int(s.QoS.CongestionControl),
		Express:    s.QoS.Express,
		Attachment: s.Attachment,
		Origin:     s.Origin,
	}
}

func decodeSample(data []byte) (runtime.Sample, error) {
	var env sampleEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return runtime.Sample{}, errors.WrapInvalid(
			errors.ErrDecodeEnvelope, "natslink", "decodeSample", "unmarshal envelope")
	}
	return envelopeToSample(&env), nil
}

func envelopeToSample(env *sampleEnvelope) runtime.Sample {
	return runtime.Sample{
		KeyExpr:   env.Key,
		Payload:   env.Payload,
		Encoding:  env.Encoding,
		Kind:      runtime.SampleKind(env.Kind),
		Timestamp: time.Unix(0, env.Timestamp),
		Seq:       env.Seq,
		QoS: runtime.QoS{
			Priority:          runtime.Priority(env.Priority),
			CongestionControl: runtime.CongestionControl(env.Congestion),
			Express:           env.Express,
		},
		Attachment: env.Attachment,
		Origin:     env.Origin,
	}
}

func encodeQuery(env *queryEnvelope) ([]byte, error) {
	return msgpack.Marshal(env)
}

func decodeQuery(data []byte, env *queryEnvelope) error {
	if err := msgpack.Unmarshal(data, env); err != nil {
		return errors.WrapInvalid(
			errors.ErrDecodeEnvelope, "natslink", "decodeQuery", "unmarshal envelope")
	}
	return nil
}

func encodeReply(env *replyEnvelope) ([]byte, error) {
	return msgpack.Marshal(env)
}

func decodeReply(data []byte, env *replyEnvelope) error {
	if err := msgpack.Unmarshal(data, env); err != nil {
		return errors.WrapInvalid(
			errors.ErrDecodeEnvelope, "natslink", "decodeReply", "unmarshal envelope")
	}
	return nil
}
