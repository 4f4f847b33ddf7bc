package keys

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Wire tags
// --------------------------------------------------------------------------

const (
	tagRoot  = '/' // first byte of every encoded key
	tagLevel = '*' // namespace, database, table and row levels
	tagIndex = '+' // secondary index entries
	tagBang  = '!' // metadata records (table meta, change feed)

	idTagInt = 0x01 // numeric record identifier
	idTagStr = 0x02 // string record identifier

	// rangeLow/rangeHigh bound a subtree: every encoded child component
	// starts with a byte strictly between the two.
	rangeLow  = 0x00
	rangeHigh = 0xff
)

// changeFeedTag follows the root tag for change feed entries: "/!cf".
var changeFeedTag = []byte{tagBang, 'c', 'f'}

// tableMetaTag follows the table prefix for table metadata: "!tb".
var tableMetaTag = []byte{tagBang, 't', 'b'}

// changeHorizonTag follows the root tag for the retention horizon marker.
var changeHorizonTag = []byte{tagBang, 'c', 'h'}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode turns a logical key into its byte representation. It fails with an
// error wrapping ErrInvalidKey when a component is empty or a required
// component is missing.
func Encode(k Key) ([]byte, error) {
	if k.Kind == KindChangeFeed {
		return encodeChangeFeed(k.Stamp), nil
	}
	buf, err := appendTable(nil, k.Namespace, k.Database, k.Table)
	if err != nil {
		return nil, err
	}
	switch k.Kind {
	case KindRow:
		buf = append(buf, tagLevel)
		return appendID(buf, k.ID)
	case KindIndex:
		if k.Index == "" {
			return nil, fmt.Errorf("%w: empty index name", ErrInvalidKey)
		}
		buf = append(buf, tagIndex)
		buf = appendString(buf, k.Index)
		return appendID(buf, k.ID)
	case KindTableMeta:
		return append(buf, tableMetaTag...), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidKey, k.Kind)
	}
}

func encodeChangeFeed(stamp [10]byte) []byte {
	buf := make([]byte, 0, 1+3+10)
	buf = append(buf, tagRoot)
	buf = append(buf, changeFeedTag...)
	return append(buf, stamp[:]...)
}

func appendTable(buf []byte, ns, db, tb string) ([]byte, error) {
	for _, name := range []string{ns, db, tb} {
		if name == "" {
			return nil, fmt.Errorf("%w: empty container name", ErrInvalidKey)
		}
	}
	buf = append(buf, tagRoot)
	buf = append(buf, tagLevel)
	buf = appendString(buf, ns)
	buf = append(buf, tagLevel)
	buf = appendString(buf, db)
	buf = append(buf, tagLevel)
	buf = appendString(buf, tb)
	return buf, nil
}

// appendString writes an escaped, terminated string component. An embedded
// NUL becomes \x00\xff; the terminator is \x00\x00. No encoded component is a
// byte-prefix of a different component, and byte order equals string order.
func appendString(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			buf = append(buf, 0x00, 0xff)
		} else {
			buf = append(buf, s[i])
		}
	}
	return append(buf, 0x00, 0x00)
}

func appendID(buf []byte, id RecordID) ([]byte, error) {
	switch v := id.(type) {
	case IntID:
		buf = append(buf, idTagInt)
		// Flipping the sign bit makes the big-endian bytes of a signed
		// integer sort in numeric order.
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v)^(1<<63))
		return append(buf, b[:]...), nil
	case StringID:
		if v == "" {
			return nil, fmt.Errorf("%w: empty record identifier", ErrInvalidKey)
		}
		buf = append(buf, idTagStr)
		return appendString(buf, string(v)), nil
	case nil:
		return nil, fmt.Errorf("%w: missing record identifier", ErrInvalidKey)
	default:
		return nil, fmt.Errorf("%w: unsupported identifier type %T", ErrInvalidKey, id)
	}
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Decode parses an encoded key back into its logical form. Decode is the
// exact inverse of Encode: Decode(Encode(k)) == k for every valid k.
func Decode(raw []byte) (Key, error) {
	var k Key
	if len(raw) < 2 || raw[0] != tagRoot {
		return k, fmt.Errorf("%w: missing root tag", ErrInvalidKey)
	}
	rest := raw[1:]

	if bytes.HasPrefix(rest, changeFeedTag) {
		rest = rest[len(changeFeedTag):]
		if len(rest) != 10 {
			return k, fmt.Errorf("%w: malformed change feed stamp", ErrInvalidKey)
		}
		k.Kind = KindChangeFeed
		copy(k.Stamp[:], rest)
		return k, nil
	}

	var err error
	if k.Namespace, rest, err = readLevel(rest); err != nil {
		return k, err
	}
	if k.Database, rest, err = readLevel(rest); err != nil {
		return k, err
	}
	if k.Table, rest, err = readLevel(rest); err != nil {
		return k, err
	}

	if bytes.Equal(rest, tableMetaTag) {
		k.Kind = KindTableMeta
		return k, nil
	}
	if len(rest) == 0 {
		return k, fmt.Errorf("%w: truncated key", ErrInvalidKey)
	}
	switch rest[0] {
	case tagLevel:
		k.Kind = KindRow
		k.ID, rest, err = readID(rest[1:])
	case tagIndex:
		k.Kind = KindIndex
		if k.Index, rest, err = readString(rest[1:]); err != nil {
			return k, err
		}
		k.ID, rest, err = readID(rest)
	default:
		return k, fmt.Errorf("%w: unknown subtree tag 0x%02x", ErrInvalidKey, rest[0])
	}
	if err != nil {
		return k, err
	}
	if len(rest) != 0 {
		return k, fmt.Errorf("%w: trailing bytes after identifier", ErrInvalidKey)
	}
	return k, nil
}

func readLevel(raw []byte) (string, []byte, error) {
	if len(raw) == 0 || raw[0] != tagLevel {
		return "", nil, fmt.Errorf("%w: missing level tag", ErrInvalidKey)
	}
	return readString(raw[1:])
}

func readString(raw []byte) (string, []byte, error) {
	var out []byte
	for i := 0; i < len(raw); i++ {
		if raw[i] != 0x00 {
			out = append(out, raw[i])
			continue
		}
		if i+1 >= len(raw) {
			break // unterminated
		}
		switch raw[i+1] {
		case 0x00:
			return string(out), raw[i+2:], nil
		case 0xff:
			out = append(out, 0x00)
			i++
		default:
			return "", nil, fmt.Errorf("%w: bad escape sequence", ErrInvalidKey)
		}
	}
	return "", nil, fmt.Errorf("%w: unterminated string component", ErrInvalidKey)
}

func readID(raw []byte) (RecordID, []byte, error) {
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("%w: missing record identifier", ErrInvalidKey)
	}
	switch raw[0] {
	case idTagInt:
		if len(raw) < 9 {
			return nil, nil, fmt.Errorf("%w: truncated numeric identifier", ErrInvalidKey)
		}
		v := binary.BigEndian.Uint64(raw[1:9]) ^ (1 << 63)
		return IntID(int64(v)), raw[9:], nil
	case idTagStr:
		s, rest, err := readString(raw[1:])
		if err != nil {
			return nil, nil, err
		}
		return StringID(s), rest, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown identifier tag 0x%02x", ErrInvalidKey, raw[0])
	}
}

// --------------------------------------------------------------------------
// Range helpers
// --------------------------------------------------------------------------

// NamespaceRange bounds every key stored under a namespace.
func NamespaceRange(ns string) (begin, end []byte, err error) {
	if ns == "" {
		return nil, nil, fmt.Errorf("%w: empty container name", ErrInvalidKey)
	}
	p := append([]byte{tagRoot, tagLevel}, appendString(nil, ns)...)
	return append(p, rangeLow), append(p[:len(p):len(p)], rangeHigh), nil
}

// DatabaseRange bounds every key stored under a database.
func DatabaseRange(ns, db string) (begin, end []byte, err error) {
	if ns == "" || db == "" {
		return nil, nil, fmt.Errorf("%w: empty container name", ErrInvalidKey)
	}
	p := append([]byte{tagRoot, tagLevel}, appendString(nil, ns)...)
	p = append(p, tagLevel)
	p = appendString(p, db)
	return append(p, rangeLow), append(p[:len(p):len(p)], rangeHigh), nil
}

// TableRange bounds every key stored under a table, metadata included.
func TableRange(ns, db, tb string) (begin, end []byte, err error) {
	p, err := appendTable(nil, ns, db, tb)
	if err != nil {
		return nil, nil, err
	}
	return append(p, rangeLow), append(p[:len(p):len(p)], rangeHigh), nil
}

// RowRange bounds the data rows of a table, excluding metadata and indexes.
func RowRange(ns, db, tb string) (begin, end []byte, err error) {
	p, err := appendTable(nil, ns, db, tb)
	if err != nil {
		return nil, nil, err
	}
	p = append(p, tagLevel)
	return append(p, rangeLow), append(p[:len(p):len(p)], rangeHigh), nil
}

// IndexRange bounds the entries of one secondary index.
func IndexRange(ns, db, tb, ix string) (begin, end []byte, err error) {
	if ix == "" {
		return nil, nil, fmt.Errorf("%w: empty index name", ErrInvalidKey)
	}
	p, err := appendTable(nil, ns, db, tb)
	if err != nil {
		return nil, nil, err
	}
	p = append(p, tagIndex)
	p = appendString(p, ix)
	return append(p, rangeLow), append(p[:len(p):len(p)], rangeHigh), nil
}

// ChangeFeedRange bounds the change feed entries with versionstamps strictly
// greater than after.
func ChangeFeedRange(after [10]byte) (begin, end []byte) {
	begin = encodeChangeFeed(after)
	begin = append(begin, rangeLow) // first key strictly after the stamp
	end = append([]byte{tagRoot}, changeFeedTag...)
	end = append(end, rangeHigh)
	return begin, end
}

// ChangeHorizonKey is the marker under which the feed retention horizon is
// persisted.
func ChangeHorizonKey() []byte {
	return append([]byte{tagRoot}, changeHorizonTag...)
}
