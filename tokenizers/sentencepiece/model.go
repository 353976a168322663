package sentencepiece

import (
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/gomlx/go-subword/tokenizers/vocab"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"k8s.io/klog/v2"
)

// Field numbers of the SentencePiece ModelProto and its sub-messages.
const (
	fieldPieces         protowire.Number = 1
	fieldTrainerSpec    protowire.Number = 2
	fieldNormalizerSpec protowire.Number = 3

	fieldPieceText  protowire.Number = 1
	fieldPieceScore protowire.Number = 2
	fieldPieceType  protowire.Number = 3

	fieldTrainerModelType    protowire.Number = 3
	fieldTrainerVocabSize    protowire.Number = 4
	fieldTrainerByteFallback protowire.Number = 35
	fieldTrainerUnkID        protowire.Number = 40
	fieldTrainerBosID        protowire.Number = 41
	fieldTrainerEosID        protowire.Number = 42
	fieldTrainerPadID        protowire.Number = 43

	fieldNormalizerName                   protowire.Number = 1
	fieldNormalizerAddDummyPrefix         protowire.Number = 3
	fieldNormalizerRemoveExtraWhitespaces protowire.Number = 4
)

// ParseModel parses a serialized SentencePiece ModelProto, the content of a "tokenizer.model" file.
//
// Only the fields used for tokenization are read: the pieces, the trainer spec (model type, byte
// fallback and the ids of the special pieces) and the normalizer spec. Unknown fields are skipped.
func ParseModel(data []byte) (*vocab.PieceModel, error) {
	// Defaults of the proto definition.
	pm := &vocab.PieceModel{
		UnknownID:              0,
		BOSID:                  1,
		EOSID:                  2,
		PadID:                  -1,
		Kind:                   vocab.KindUnigram,
		AddDummyPrefix:         true,
		RemoveExtraWhitespaces: true,
	}
	err := walk(data, func(num protowire.Number, typ protowire.Type, value []byte, _ uint64) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case fieldPieces:
			p, err := parsePiece(value)
			if err != nil {
				return errors.WithMessagef(err, "piece %d", len(pm.Pieces))
			}
			pm.Pieces = append(pm.Pieces, p)
		case fieldTrainerSpec:
			return errors.WithMessage(parseTrainerSpec(value, pm), "trainer spec")
		case fieldNormalizerSpec:
			return errors.WithMessage(parseNormalizerSpec(value, pm), "normalizer spec")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := pm.Validate(); err != nil {
		return nil, err
	}
	return pm, nil
}

// Load maps the SentencePiece model file at path into memory and parses it.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "can't open SentencePiece model %q: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "can't stat SentencePiece model %q: %v", path, err)
	}
	if info.Size() == 0 {
		return nil, errors.Wrapf(api.ErrVocab, "SentencePiece model %q is empty", path)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(api.ErrVocab, "can't map SentencePiece model %q: %v", path, err)
	}
	defer func() {
		if err := data.Unmap(); err != nil {
			klog.Warningf("sentencepiece: failed to unmap %q: %v", path, err)
		}
	}()
	m, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "while loading SentencePiece model %q", path)
	}
	klog.V(1).Infof("loaded SentencePiece model %q: %d pieces, kind %d", path, len(m.Pieces), m.Kind)
	return m, nil
}

// walk calls fn for every field of a serialized message. For varint and fixed-size fields, value is
// nil and the number is given in scalar; for length-delimited fields value holds the bytes.
func walk(data []byte, fn func(num protowire.Number, typ protowire.Type, value []byte, scalar uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrapf(api.ErrVocab, "malformed field tag: %v", protowire.ParseError(n))
		}
		data = data[n:]
		var (
			value  []byte
			scalar uint64
		)
		switch typ {
		case protowire.VarintType:
			scalar, n = protowire.ConsumeVarint(data)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(data)
			scalar = uint64(v)
		case protowire.Fixed64Type:
			scalar, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			value, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return errors.Wrapf(api.ErrVocab, "malformed field %d: %v", num, protowire.ParseError(n))
		}
		data = data[n:]
		if err := fn(num, typ, value, scalar); err != nil {
			return err
		}
	}
	return nil
}

func parsePiece(data []byte) (vocab.Piece, error) {
	p := vocab.Piece{Type: vocab.PieceNormal}
	err := walk(data, func(num protowire.Number, typ protowire.Type, value []byte, scalar uint64) error {
		switch {
		case num == fieldPieceText && typ == protowire.BytesType:
			p.Text = string(value)
		case num == fieldPieceScore && typ == protowire.Fixed32Type:
			p.Score = math.Float32frombits(uint32(scalar))
		case num == fieldPieceType && typ == protowire.VarintType:
			p.Type = vocab.PieceType(int32(scalar))
		}
		return nil
	})
	if err == nil && p.Text == "" {
		err = errors.Wrap(api.ErrVocab, "empty piece")
	}
	return p, err
}

func parseTrainerSpec(data []byte, pm *vocab.PieceModel) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, _ []byte, scalar uint64) error {
		if typ != protowire.VarintType {
			return nil
		}
		// Negative int32 values are encoded sign-extended to 64 bits.
		v := int(int32(scalar))
		switch num {
		case fieldTrainerModelType:
			pm.Kind = vocab.ModelKind(v)
		case fieldTrainerByteFallback:
			pm.ByteFallback = scalar != 0
		case fieldTrainerUnkID:
			pm.UnknownID = v
		case fieldTrainerBosID:
			pm.BOSID = v
		case fieldTrainerEosID:
			pm.EOSID = v
		case fieldTrainerPadID:
			pm.PadID = v
		}
		return nil
	})
}

func parseNormalizerSpec(data []byte, pm *vocab.PieceModel) error {
	return walk(data, func(num protowire.Number, typ protowire.Type, value []byte, scalar uint64) error {
		switch {
		case num == fieldNormalizerName && typ == protowire.BytesType:
			pm.NormalizerName = string(value)
		case num == fieldNormalizerAddDummyPrefix && typ == protowire.VarintType:
			pm.AddDummyPrefix = scalar != 0
		case num == fieldNormalizerRemoveExtraWhitespaces && typ == protowire.VarintType:
			pm.RemoveExtraWhitespaces = scalar != 0
		}
		return nil
	})
}

// processorOverrides is appended to the serialized model handed to the BPE processor. Repeated
// occurrences of a message field are merged, so it turns off the dummy prefix and the whitespace
// removal of the processor: both are done by the normalizer and pre-tokenizer of the pipeline.
var processorOverrides = func() []byte {
	var spec []byte
	spec = protowire.AppendTag(spec, fieldNormalizerAddDummyPrefix, protowire.VarintType)
	spec = protowire.AppendVarint(spec, 0)
	spec = protowire.AppendTag(spec, fieldNormalizerRemoveExtraWhitespaces, protowire.VarintType)
	spec = protowire.AppendVarint(spec, 0)
	b := protowire.AppendTag(nil, fieldNormalizerSpec, protowire.BytesType)
	return protowire.AppendBytes(b, spec)
}()

// Marshal serializes a piece model as a SentencePiece ModelProto, the inverse of ParseModel.
func Marshal(pm *vocab.PieceModel) []byte {
	var data []byte
	for _, p := range pm.Pieces {
		var msg []byte
		msg = protowire.AppendTag(msg, fieldPieceText, protowire.BytesType)
		msg = protowire.AppendString(msg, p.Text)
		msg = protowire.AppendTag(msg, fieldPieceScore, protowire.Fixed32Type)
		msg = protowire.AppendFixed32(msg, math.Float32bits(p.Score))
		msg = protowire.AppendTag(msg, fieldPieceType, protowire.VarintType)
		msg = protowire.AppendVarint(msg, uint64(p.Type))
		data = protowire.AppendTag(data, fieldPieces, protowire.BytesType)
		data = protowire.AppendBytes(data, msg)
	}

	var trainer []byte
	for _, f := range []struct {
		num   protowire.Number
		value int
	}{
		{fieldTrainerModelType, int(pm.Kind)},
		{fieldTrainerVocabSize, len(pm.Pieces)},
		{fieldTrainerByteFallback, boolToInt(pm.ByteFallback)},
		{fieldTrainerUnkID, pm.UnknownID},
		{fieldTrainerBosID, pm.BOSID},
		{fieldTrainerEosID, pm.EOSID},
		{fieldTrainerPadID, pm.PadID},
	} {
		trainer = protowire.AppendTag(trainer, f.num, protowire.VarintType)
		trainer = protowire.AppendVarint(trainer, uint64(int64(f.value)))
	}
	data = protowire.AppendTag(data, fieldTrainerSpec, protowire.BytesType)
	data = protowire.AppendBytes(data, trainer)

	var normalizer []byte
	if pm.NormalizerName != "" {
		normalizer = protowire.AppendTag(normalizer, fieldNormalizerName, protowire.BytesType)
		normalizer = protowire.AppendString(normalizer, pm.NormalizerName)
	}
	normalizer = protowire.AppendTag(normalizer, fieldNormalizerAddDummyPrefix, protowire.VarintType)
	normalizer = protowire.AppendVarint(normalizer, protowire.EncodeBool(pm.AddDummyPrefix))
	normalizer = protowire.AppendTag(normalizer, fieldNormalizerRemoveExtraWhitespaces, protowire.VarintType)
	normalizer = protowire.AppendVarint(normalizer, protowire.EncodeBool(pm.RemoveExtraWhitespaces))
	data = protowire.AppendTag(data, fieldNormalizerSpec, protowire.BytesType)
	return protowire.AppendBytes(data, normalizer)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
