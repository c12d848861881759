package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/tliron/commonlog"

	"vmkit/internal/code"
	"vmkit/internal/object"
)

var log = commonlog.GetLogger("vmkit.bytecode")

// FormatVersion is the version this package writes and reads by default.
var FormatVersion = SemVersion{Major: 1, Minor: 0, Patch: 0}

// HeaderSize is signature(4) + version(6) + instruction length(4).
const HeaderSize = 14

var (
	ErrBadSignature = errors.New("bad file signature")
	ErrTruncated    = errors.New("truncated bytecode file")
	ErrBadLength    = errors.New("bad instruction region length")
)

type VersionError struct {
	File   SemVersion
	Reader SemVersion
	Compat Compat
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("bytecode version %s is not readable by %s (%s compatibility)", e.File, e.Reader, e.Compat)
}

type Header struct {
	Signature         uint32
	Version           SemVersion
	InstructionLength int32
}

// Options controls how strictly Read accepts a file.
type Options struct {
	// Version is the reader's own version; zero means FormatVersion.
	Version SemVersion
	Compat  Compat
	// Catalog, when set, is used to check the instruction region is a
	// well-formed instruction stream.
	Catalog *code.Catalog
}

func (o Options) readerVersion() SemVersion {
	if o.Version == (SemVersion{}) {
		return FormatVersion
	}
	return o.Version
}

// Write emits the header, the instruction region and the constant region.
func Write(w io.Writer, signature uint32, version SemVersion, prog *Program, codec object.ConstantCodec) error {
	if len(prog.Instructions) > math.MaxInt32 {
		return fmt.Errorf("%w: %d bytes", ErrBadLength, len(prog.Instructions))
	}
	consts, err := prog.EncodeConstants(codec)
	if err != nil {
		return err
	}

	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], signature)
	binary.BigEndian.PutUint16(hdr[4:6], version.Major)
	binary.BigEndian.PutUint16(hdr[6:8], version.Minor)
	binary.BigEndian.PutUint16(hdr[8:10], version.Patch)
	binary.BigEndian.PutUint32(hdr[10:14], uint32(int32(len(prog.Instructions))))

	for _, part := range [][]byte{hdr[:], prog.Instructions, consts} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	log.Debugf("wrote program: %d instruction bytes, %d constants", len(prog.Instructions), len(prog.Constants))
	return nil
}

// Marshal writes prog using the codec's signature and FormatVersion.
func Marshal(prog *Program, codec object.ConstantCodec) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, codec.Signature(), FormatVersion, prog, codec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseHeader decodes the fixed header without checking signature or version.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(data))
	}
	return Header{
		Signature: binary.BigEndian.Uint32(data[0:4]),
		Version: SemVersion{
			Major: binary.BigEndian.Uint16(data[4:6]),
			Minor: binary.BigEndian.Uint16(data[6:8]),
			Patch: binary.BigEndian.Uint16(data[8:10]),
		},
		InstructionLength: int32(binary.BigEndian.Uint32(data[10:14])),
	}, nil
}

// Check validates signature then version, the order a loader must reject in.
func (h Header) Check(signature uint32, opts Options) error {
	if h.Signature != signature {
		return fmt.Errorf("%w: got %s, want %s", ErrBadSignature, FormatTag(h.Signature), FormatTag(signature))
	}
	reader := opts.readerVersion()
	if !reader.Satisfies(h.Version, opts.Compat) {
		return &VersionError{File: h.Version, Reader: reader, Compat: opts.Compat}
	}
	return nil
}

// Unmarshal decodes a whole file held in memory.
func Unmarshal(data []byte, codec object.ConstantCodec, opts Options) (*Program, Header, error) {
	// the signature is checked before anything else about the file
	if len(data) >= 4 {
		if sig := binary.BigEndian.Uint32(data[0:4]); sig != codec.Signature() {
			return nil, Header{}, fmt.Errorf("%w: got %s, want %s", ErrBadSignature, FormatTag(sig), FormatTag(codec.Signature()))
		}
	}
	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, Header{}, err
	}
	if err := hdr.Check(codec.Signature(), opts); err != nil {
		return nil, hdr, err
	}
	if hdr.InstructionLength < 0 {
		return nil, hdr, fmt.Errorf("%w: %d", ErrBadLength, hdr.InstructionLength)
	}

	body := data[HeaderSize:]
	n := int(hdr.InstructionLength)
	if n > len(body) {
		return nil, hdr, fmt.Errorf("%w: instruction region needs %d bytes, have %d", ErrTruncated, n, len(body))
	}
	ins := make(code.Instructions, n)
	copy(ins, body[:n])

	if opts.Catalog != nil {
		if err := opts.Catalog.Walk(ins, func(int, code.Opcode, []int) error { return nil }); err != nil {
			return nil, hdr, fmt.Errorf("malformed instruction region: %w", err)
		}
	}

	consts, err := DecodeConstants(body[n:], codec)
	if err != nil {
		return nil, hdr, err
	}
	log.Debugf("read program %s v%s: %d instruction bytes, %d constants",
		FormatTag(hdr.Signature), hdr.Version, n, len(consts))
	return &Program{Instructions: ins, Constants: consts}, hdr, nil
}

// Read loads a file from r. See Unmarshal.
func Read(r io.Reader, codec object.ConstantCodec, opts Options) (*Program, Header, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Header{}, err
	}
	return Unmarshal(data, codec, opts)
}
