package bundle

// PayloadLocation distinguishes where a bundle's payload bytes currently
// live.
type PayloadLocation int

const (
	// PayloadNowhere marks a bundle whose payload has not yet been
	// assembled or has been released (e.g. after a successful handoff
	// to a convergence layer that takes ownership of the file).
	PayloadNowhere PayloadLocation = iota
	PayloadMemory
	PayloadDisk
)

// Payload is a bundle's payload handle: either an in-memory buffer or a
// reference to a file owned by the bundle store. Only the bundle store opens or closes the underlying file;
// Payload itself just carries the filename and length.
type Payload struct {
	Location PayloadLocation
	Length   uint64
	// Filename is set only when Location == PayloadDisk; the store
	// resolves it relative to its configured payload directory.
	Filename string
	// bytes holds the buffer when Location == PayloadMemory. Copy-on-write
	// for fragmentation: Slice returns a new Payload sharing the backing
	// array until a caller mutates it, at which point it must copy first.
	bytes []byte
}

// NewMemoryPayload wraps an in-memory buffer.
func NewMemoryPayload(b []byte) Payload {
	return Payload{Location: PayloadMemory, Length: uint64(len(b)), bytes: b}
}

// NewDiskPayload references a payload file by name; Length must be
// supplied by the caller (the store tracks it independently of the
// filesystem to detect truncation).
func NewDiskPayload(filename string, length uint64) Payload {
	return Payload{Location: PayloadDisk, Length: length, Filename: filename}
}

// Bytes returns the in-memory buffer. It panics if Location is not
// PayloadMemory; callers must route disk-backed payloads through the
// bundle store's file API instead.
func (p Payload) Bytes() []byte {
	if p.Location != PayloadMemory {
		panic("bundle: Payload.Bytes called on non-memory payload")
	}
	return p.bytes
}

// Slice returns the payload covering [offset, offset+length) of an
// in-memory payload, sharing the backing array copy-on-write style.
// Callers that intend to mutate the result must copy it first.
func (p Payload) Slice(offset, length uint64) Payload {
	if p.Location != PayloadMemory {
		panic("bundle: Payload.Slice called on non-memory payload")
	}
	end := offset + length
	if end > uint64(len(p.bytes)) {
		end = uint64(len(p.bytes))
	}
	return NewMemoryPayload(p.bytes[offset:end])
}
