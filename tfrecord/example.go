package tfrecord

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Feature keys of the fixed record schema consumed by the pipeline.
const (
	KeyImageEncoded = "image/encoded"
	KeyImageLabel   = "image/class/label"
)

// DefaultLabel is used when a record carries no label feature.
const DefaultLabel = -1

// Example is the decoded view of one record: the encoded image bytes and the
// raw (1-indexed) class label.
type Example struct {
	Encoded []byte
	Label   int64
}

// tf.Example field numbers. Only the parts of the schema this pipeline
// consumes are handled; unknown fields are skipped.
const (
	exampleFeaturesField = 1 // Example.features
	featuresMapField     = 1 // Features.feature (map<string, Feature>)
	mapKeyField          = 1
	mapValueField        = 2
	featureBytesList     = 1 // Feature.bytes_list
	featureFloatList     = 2 // Feature.float_list
	featureInt64List     = 3 // Feature.int64_list
	listValueField       = 1
)

// ParseExample decodes a serialized tf.Example payload, extracting the
// image/encoded bytes feature and the image/class/label int64 feature.
// Missing features fall back to an empty image and DefaultLabel, matching
// the reader schema defaults.
func ParseExample(payload []byte) (Example, error) {
	ex := Example{Label: DefaultLabel}

	features, err := messageField(payload, exampleFeaturesField)
	if err != nil {
		return ex, errors.Wrap(err, "parsing tf.Example")
	}
	if features == nil {
		return ex, nil
	}

	for b := features; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ex, errors.Wrap(protowire.ParseError(n), "parsing tf.Example features")
		}
		b = b[n:]
		if num != featuresMapField || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ex, errors.Wrap(protowire.ParseError(n), "parsing tf.Example features")
			}
			b = b[n:]
			continue
		}
		entry, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return ex, errors.Wrap(protowire.ParseError(n), "parsing tf.Example feature entry")
		}
		b = b[n:]
		if err := ex.applyEntry(entry); err != nil {
			return ex, err
		}
	}
	return ex, nil
}

// applyEntry decodes one map<string, Feature> entry and applies it to the
// example if the key is part of the consumed schema.
func (ex *Example) applyEntry(entry []byte) error {
	var key []byte
	var value []byte
	for b := entry; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "parsing feature map entry")
		}
		b = b[n:]
		switch {
		case num == mapKeyField && typ == protowire.BytesType:
			key, n = protowire.ConsumeBytes(b)
		case num == mapValueField && typ == protowire.BytesType:
			value, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "parsing feature map entry")
		}
		b = b[n:]
	}

	switch string(key) {
	case KeyImageEncoded:
		list, err := messageField(value, featureBytesList)
		if err != nil {
			return errors.Wrapf(err, "feature %s", KeyImageEncoded)
		}
		if list == nil {
			return nil
		}
		encoded, err := firstBytes(list)
		if err != nil {
			return errors.Wrapf(err, "feature %s", KeyImageEncoded)
		}
		ex.Encoded = encoded
	case KeyImageLabel:
		list, err := messageField(value, featureInt64List)
		if err != nil {
			return errors.Wrapf(err, "feature %s", KeyImageLabel)
		}
		if list == nil {
			return nil
		}
		label, ok, err := firstInt64(list)
		if err != nil {
			return errors.Wrapf(err, "feature %s", KeyImageLabel)
		}
		if ok {
			ex.Label = label
		}
	}
	return nil
}

// messageField returns the bytes of the first occurrence of a
// length-delimited field `field` in message b, or nil if absent.
func messageField(b []byte, field protowire.Number) ([]byte, error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num == field && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			return v, nil
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil, nil
}

// firstBytes returns the first repeated bytes value of a BytesList message.
func firstBytes(list []byte) ([]byte, error) {
	v, err := messageField(list, listValueField)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// firstInt64 returns the first value of an Int64List message, handling both
// packed and unpacked encodings.
func firstInt64(list []byte) (int64, bool, error) {
	for b := list; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, false, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == listValueField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, false, protowire.ParseError(n)
			}
			return int64(v), true, nil
		case num == listValueField && typ == protowire.BytesType:
			// Packed repeated int64.
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, false, protowire.ParseError(n)
			}
			if len(packed) == 0 {
				b = b[n:]
				continue
			}
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return 0, false, protowire.ParseError(m)
			}
			return int64(v), true, nil
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, false, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return 0, false, nil
}

// EncodeExample serializes an Example into tf.Example wire format with the
// fixed schema used by the readers. Used by the writer and by tests to build
// synthetic shards.
func EncodeExample(ex Example) []byte {
	// Feature{bytes_list: {value: [encoded]}}
	bytesList := protowire.AppendBytes(protowire.AppendTag(nil, listValueField, protowire.BytesType), ex.Encoded)
	imageFeature := protowire.AppendBytes(protowire.AppendTag(nil, featureBytesList, protowire.BytesType), bytesList)

	// Feature{int64_list: {value: [label]}}
	int64List := protowire.AppendVarint(protowire.AppendTag(nil, listValueField, protowire.VarintType), uint64(ex.Label))
	labelFeature := protowire.AppendBytes(protowire.AppendTag(nil, featureInt64List, protowire.BytesType), int64List)

	entries := appendMapEntry(nil, KeyImageEncoded, imageFeature)
	entries = appendMapEntry(entries, KeyImageLabel, labelFeature)

	return protowire.AppendBytes(protowire.AppendTag(nil, exampleFeaturesField, protowire.BytesType), entries)
}

func appendMapEntry(b []byte, key string, feature []byte) []byte {
	entry := protowire.AppendString(protowire.AppendTag(nil, mapKeyField, protowire.BytesType), key)
	entry = protowire.AppendBytes(protowire.AppendTag(entry, mapValueField, protowire.BytesType), feature)
	return protowire.AppendBytes(protowire.AppendTag(b, featuresMapField, protowire.BytesType), entry)
}
