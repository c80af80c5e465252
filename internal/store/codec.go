package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Record values use an explicit little-endian binary encoding: a leading
// format version byte, length-prefixed strings, fixed-width integers, and raw
// float32 runs for embeddings. The encoding is part of the upgrade contract;
// schema changes bump the version byte and ship migration code.

const (
	collectionFormatV1 = 1
	documentFormatV1   = 1
	chunkFormatV1      = 1
	vectorFormatV1     = 1
)

type encoder struct {
	b []byte
}

func (e *encoder) u8(v uint8) { e.b = append(e.b, v) }

func (e *encoder) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	e.b = append(e.b, buf[:]...)
}

func (e *encoder) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	e.b = append(e.b, buf[:]...)
}

func (e *encoder) f32(v float32) { e.u32(math.Float32bits(v)) }

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.b = append(e.b, s...)
}

func (e *encoder) strs(ss []string) {
	e.u32(uint32(len(ss)))
	for _, s := range ss {
		e.str(s)
	}
}

func (e *encoder) f32s(vs []float32) {
	e.u32(uint32(len(vs)))
	for _, v := range vs {
		e.f32(v)
	}
}

type decoder struct {
	b   []byte
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf(format, args...)
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.b) < n {
		d.fail("truncated record: want %d bytes, have %d", n, len(d.b))
		return nil
	}
	out := d.b[:n]
	d.b = d.b[n:]
	return out
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) f32() float32 { return math.Float32frombits(d.u32()) }

func (d *decoder) bool() bool { return d.u8() != 0 }

func (d *decoder) str() string {
	n := d.u32()
	if d.err == nil && uint32(len(d.b)) < n {
		d.fail("truncated string: want %d bytes, have %d", n, len(d.b))
		return ""
	}
	b := d.take(int(n))
	return string(b)
}

func (d *decoder) strs() []string {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	// Guard against garbage counts before allocating.
	if int(n) > len(d.b) {
		d.fail("string slice count %d exceeds remaining %d bytes", n, len(d.b))
		return nil
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n && d.err == nil; i++ {
		out = append(out, d.str())
	}
	return out
}

func (d *decoder) f32s() []float32 {
	n := d.u32()
	if d.err != nil {
		return nil
	}
	if int(n)*4 > len(d.b) {
		d.fail("float slice count %d exceeds remaining %d bytes", n, len(d.b))
		return nil
	}
	out := make([]float32, 0, n)
	for i := uint32(0); i < n && d.err == nil; i++ {
		out = append(out, d.f32())
	}
	return out
}

// fin returns the accumulated decode error, rejecting trailing garbage.
func (d *decoder) fin() error {
	if d.err != nil {
		return d.err
	}
	if len(d.b) != 0 {
		return fmt.Errorf("%d trailing bytes after record", len(d.b))
	}
	return nil
}

// EncodeCollection serializes a Collection record.
func EncodeCollection(c *Collection) []byte {
	e := &encoder{}
	e.u8(collectionFormatV1)
	e.str(c.ID)
	e.str(c.Name)
	e.str(c.Description)
	e.u64(c.CreatedAt)
	e.u64(c.UpdatedAt)
	e.str(c.GenesisAdmin)
	e.strs(c.Admins)
	e.str(c.Settings.EmbeddingModel)
	e.u32(c.Settings.ChunkSize)
	e.u32(c.Settings.ChunkOverlap)
	e.u32(c.Settings.MaxDocuments)
	e.bool(c.Settings.AutoEmbed)
	e.str(c.Settings.ProxyURL)
	e.u32(c.Dimension)
	return e.b
}

// DecodeCollection deserializes a Collection record.
func DecodeCollection(b []byte) (*Collection, error) {
	d := &decoder{b: b}
	if v := d.u8(); d.err == nil && v != collectionFormatV1 {
		return nil, fmt.Errorf("unknown collection format version %d", v)
	}
	c := &Collection{}
	c.ID = d.str()
	c.Name = d.str()
	c.Description = d.str()
	c.CreatedAt = d.u64()
	c.UpdatedAt = d.u64()
	c.GenesisAdmin = d.str()
	c.Admins = d.strs()
	c.Settings.EmbeddingModel = d.str()
	c.Settings.ChunkSize = d.u32()
	c.Settings.ChunkOverlap = d.u32()
	c.Settings.MaxDocuments = d.u32()
	c.Settings.AutoEmbed = d.bool()
	c.Settings.ProxyURL = d.str()
	c.Dimension = d.u32()
	if err := d.fin(); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodeDocument serializes a Document record (metadata plus content).
func EncodeDocument(doc *Document) []byte {
	e := &encoder{}
	e.u8(documentFormatV1)
	e.str(doc.Meta.ID)
	e.str(doc.Meta.CollectionID)
	e.str(doc.Meta.Title)
	e.str(string(doc.Meta.ContentType))
	e.str(doc.Meta.SourceURL)
	e.str(doc.Meta.Author)
	e.strs(doc.Meta.Tags)
	e.u64(doc.Meta.Timestamp)
	e.u64(doc.Meta.Size)
	e.u32(doc.Meta.TotalChunks)
	e.bool(doc.Meta.IsEmbedded)
	e.str(doc.Meta.Checksum)
	e.str(doc.Content)
	return e.b
}

// DecodeDocument deserializes a Document record.
func DecodeDocument(b []byte) (*Document, error) {
	d := &decoder{b: b}
	if v := d.u8(); d.err == nil && v != documentFormatV1 {
		return nil, fmt.Errorf("unknown document format version %d", v)
	}
	doc := &Document{}
	doc.Meta.ID = d.str()
	doc.Meta.CollectionID = d.str()
	doc.Meta.Title = d.str()
	doc.Meta.ContentType = ContentType(d.str())
	doc.Meta.SourceURL = d.str()
	doc.Meta.Author = d.str()
	doc.Meta.Tags = d.strs()
	doc.Meta.Timestamp = d.u64()
	doc.Meta.Size = d.u64()
	doc.Meta.TotalChunks = d.u32()
	doc.Meta.IsEmbedded = d.bool()
	doc.Meta.Checksum = d.str()
	doc.Content = d.str()
	if err := d.fin(); err != nil {
		return nil, err
	}
	return doc, nil
}

// EncodeChunk serializes a SemanticChunk record.
func EncodeChunk(c *SemanticChunk) []byte {
	e := &encoder{}
	e.u8(chunkFormatV1)
	e.str(c.ID)
	e.str(c.DocumentID)
	e.str(c.Text)
	e.u32(c.Position)
	e.u64(c.CharStart)
	e.u64(c.CharEnd)
	e.u32(c.TokenCount)
	return e.b
}

// DecodeChunk deserializes a SemanticChunk record.
func DecodeChunk(b []byte) (*SemanticChunk, error) {
	d := &decoder{b: b}
	if v := d.u8(); d.err == nil && v != chunkFormatV1 {
		return nil, fmt.Errorf("unknown chunk format version %d", v)
	}
	c := &SemanticChunk{}
	c.ID = d.str()
	c.DocumentID = d.str()
	c.Text = d.str()
	c.Position = d.u32()
	c.CharStart = d.u64()
	c.CharEnd = d.u64()
	c.TokenCount = d.u32()
	if err := d.fin(); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodeVector serializes a Vector record.
func EncodeVector(v *Vector) []byte {
	e := &encoder{}
	e.u8(vectorFormatV1)
	e.str(v.ID)
	e.str(v.DocumentID)
	e.str(v.ChunkID)
	e.f32s(v.Embedding)
	e.f32(v.Norm)
	e.str(v.Model)
	e.u64(v.CreatedAt)
	return e.b
}

// DecodeVector deserializes a Vector record.
func DecodeVector(b []byte) (*Vector, error) {
	d := &decoder{b: b}
	if ver := d.u8(); d.err == nil && ver != vectorFormatV1 {
		return nil, fmt.Errorf("unknown vector format version %d", ver)
	}
	v := &Vector{}
	v.ID = d.str()
	v.DocumentID = d.str()
	v.ChunkID = d.str()
	v.Embedding = d.f32s()
	v.Norm = d.f32()
	v.Model = d.str()
	v.CreatedAt = d.u64()
	if err := d.fin(); err != nil {
		return nil, err
	}
	return v, nil
}
