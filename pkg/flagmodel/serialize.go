package flagmodel

import "encoding/json"

// SerializedItemDescriptor is the wire/persistent-store form of an
// ItemDescriptor: the version plus either the item's JSON bytes, or a
// nil Item for a tombstone. Version is always populated so a tombstone's
// deletion version survives serialization.
type SerializedItemDescriptor struct {
	Version int
	Item    []byte // nil means tombstone
}

// Serialize encodes an ItemDescriptor to its persistent-store form.
func Serialize(kind Kind, desc ItemDescriptor) (SerializedItemDescriptor, error) {
	if desc.Item.IsTombstone() {
		return SerializedItemDescriptor{Version: desc.Version, Item: nil}, nil
	}
	var b []byte
	var err error
	switch kind {
	case KindFlags:
		f, _ := desc.Item.Flag()
		b, err = json.Marshal(f)
	case KindSegments:
		s, _ := desc.Item.Segment()
		b, err = json.Marshal(s)
	}
	if err != nil {
		return SerializedItemDescriptor{}, err
	}
	return SerializedItemDescriptor{Version: desc.Version, Item: b}, nil
}

// Deserialize decodes a SerializedItemDescriptor back into an
// ItemDescriptor, dispatching on kind. A nil/empty Item decodes to a
// tombstone at the carried version.
func Deserialize(kind Kind, sd SerializedItemDescriptor) (ItemDescriptor, error) {
	if len(sd.Item) == 0 {
		return Tombstone(sd.Version), nil
	}
	switch kind {
	case KindFlags:
		var f Flag
		if err := json.Unmarshal(sd.Item, &f); err != nil {
			return ItemDescriptor{}, err
		}
		return ItemDescriptor{Version: sd.Version, Item: FlagItem(&f)}, nil
	case KindSegments:
		var s Segment
		if err := json.Unmarshal(sd.Item, &s); err != nil {
			return ItemDescriptor{}, err
		}
		return ItemDescriptor{Version: sd.Version, Item: SegmentItem(&s)}, nil
	}
	return ItemDescriptor{}, nil
}
