// Package archive classifies the first bytes of a decoded Usenet segment as
// a RAR4, RAR5 or 7z archive header, without unpacking the archive itself.
// Classification feeds triage decision synthesis: some statuses block a
// release outright (encrypted, solid, compressed-without-store), some are
// outright successes (stored, uncompressed) and the rest are warnings.
package archive

import (
	"bytes"
	"os"
	"regexp"
	"strings"

	"github.com/javi11/rardecode/v2"
	"github.com/javi11/sevenzip"

	"github.com/nzbstream/nzbstream/pkg/logger"
)

// SampleLimit is the maximum number of decoded bytes the triage runner hands
// to Sniff; only the archive's local header lives in this range.
const SampleLimit = 256 * 1024

// Status is one of the closed classification outcomes the archive sniffer
// produces.
type Status string

const (
	StatusRarStored          Status = "rar-stored"
	StatusRarCompressed       Status = "rar-compressed"
	StatusRarEncrypted        Status = "rar-encrypted"
	StatusRarSolid            Status = "rar-solid"
	StatusRarNestedArchive    Status = "rar-nested-archive"
	StatusRar5Unsupported     Status = "rar5-unsupported"
	StatusSevenZipStored      Status = "sevenzip-stored"
	StatusSevenZipUnsupported Status = "sevenzip-unsupported"
	StatusSevenZipNested      Status = "sevenzip-nested-archive"
	StatusSevenZipUntested    Status = "sevenzip-untested"
	StatusHeaderNotFound      Status = "rar-header-not-found"
)

// Blockers is the set of statuses decision synthesis treats as a hard block.
var Blockers = map[Status]bool{
	StatusRarCompressed:       true,
	StatusRarEncrypted:        true,
	StatusRarSolid:            true,
	StatusRar5Unsupported:     true,
	StatusRarNestedArchive:    true,
	StatusSevenZipNested:      true,
	StatusSevenZipUnsupported: true,
}

// Successes is the set of statuses decision synthesis treats as confirming
// the release plays without further work.
var Successes = map[Status]bool{
	StatusRarStored:     true,
	StatusSevenZipStored: true,
}

var (
	rar4Magic = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}
	rar5Magic = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00}
	sevenMagic = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}
)

var (
	nestedArchiveRe = regexp.MustCompile(`(?i)\.(r\d{2}|part\d+\.rar|rar|7z|zip)\b`)
	videoFileRe     = regexp.MustCompile(`(?i)\.(mkv|mp4|mov|avi|ts|m4v|mpg|mpeg|wmv|flv|webm)\b`)
)

// Sniff classifies the decoded sample (at most SampleLimit bytes). It never
// errors: a sample with no known archive magic, or a RAR sample whose header
// walk finds no file header, reports StatusHeaderNotFound, and a 7z sample
// the sevenzip reader cannot list reports StatusSevenZipUntested.
func Sniff(sample []byte) Status {
	if len(sample) > SampleLimit {
		sample = sample[:SampleLimit]
	}

	var status Status
	switch {
	case bytes.HasPrefix(sample, rar5Magic):
		status = classifyRAR5(sample[len(rar5Magic):])
	case bytes.HasPrefix(sample, rar4Magic):
		status = classifyRAR4(sample[len(rar4Magic):])
	case bytes.HasPrefix(sample, sevenMagic):
		status = classify7z(sample)
	default:
		status = StatusHeaderNotFound
	}

	return applyNestedArchiveOverlay(sample, status)
}

// applyNestedArchiveOverlay scans the sample as latin-1 for filename-shaped
// tokens: if at least one looks like a nested archive volume and none look
// like a playable video, the status is upgraded to the nested-archive
// variant regardless of the strict classification.
func applyNestedArchiveOverlay(sample []byte, status Status) Status {
	text := latin1ToUTF8(sample)
	if !nestedArchiveRe.MatchString(text) || videoFileRe.MatchString(text) {
		return status
	}
	if strings.HasPrefix(string(status), "sevenzip") {
		return StatusSevenZipNested
	}
	return StatusRarNestedArchive
}

func latin1ToUTF8(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// --- RAR4 ---

const (
	rar4FileHeaderType = 0x74
	rar4FlagLongBlock  = 0x8000
	rar4FlagPassword   = 0x0004
	rar4FlagSolid      = 0x0010
	rar4FlagLarge      = 0x0100
	rar4MethodStore    = 0x30
)

// classifyRAR4 walks RAR4 block headers following the magic, looking for
// file-header blocks (0x74) to determine encryption/solid/store status.
func classifyRAR4(b []byte) Status {
	sawNestedOnly := true
	sawAnyFile := false
	sawStoredVideo := false
	sawCompressed := false

	for len(b) >= 7 {
		headFlags := le16(b[3:5])
		headSize := int(le16(b[5:7]))
		headType := b[2]

		blockLen := headSize
		extra := 0
		if headFlags&rar4FlagLongBlock != 0 && len(b) >= 11 {
			extra = int(le32(b[7:11]))
		}
		if blockLen < 7 {
			break
		}

		if headType == rar4FileHeaderType {
			if headFlags&rar4FlagPassword != 0 {
				return StatusRarEncrypted
			}
			if headFlags&rar4FlagSolid != 0 {
				return StatusRarSolid
			}
			sawAnyFile = true

			fh, name, ok := parseRAR4FileHeader(b, headFlags)
			if ok {
				isVideo := videoFileRe.MatchString(strings.ToLower(name))
				isNested := nestedArchiveRe.MatchString(strings.ToLower(name))
				if !isNested {
					sawNestedOnly = false
				}
				if fh.method == rar4MethodStore {
					if isVideo {
						sawStoredVideo = true
					}
				} else {
					sawCompressed = true
				}
			}
		}

		total := blockLen + extra
		if total <= 0 || total > len(b) {
			break
		}
		b = b[total:]
	}

	switch {
	case sawStoredVideo:
		return StatusRarStored
	case sawAnyFile && sawNestedOnly:
		return StatusRarNestedArchive
	case sawCompressed:
		return StatusRarCompressed
	case sawAnyFile:
		// Metadata-only file headers seen (e.g. truncated sample); treat as
		// stored since no compression was observed.
		return StatusRarStored
	default:
		return StatusHeaderNotFound
	}
}

type rar4FileHeader struct {
	method byte
}

// parseRAR4FileHeader reads the file-header-specific fields that follow the
// 7-byte base block header, returning the filename and method byte.
func parseRAR4FileHeader(b []byte, flags uint16) (rar4FileHeader, string, bool) {
	off := 7
	// PACK_SIZE(4) UNP_SIZE(4) HOST_OS(1) FILE_CRC(4) FTIME(4) UNP_VER(1) METHOD(1) NAME_SIZE(2) ATTR(4)
	const fixedLen = 4 + 4 + 1 + 4 + 4 + 1 + 1 + 2 + 4
	if off+fixedLen > len(b) {
		return rar4FileHeader{}, "", false
	}
	method := b[off+4+4+1+4+4+1]
	nameSize := int(le16(b[off+fixedLen-6 : off+fixedLen-4]))
	off += fixedLen
	if flags&rar4FlagLarge != 0 {
		off += 8
	}
	if off+nameSize > len(b) || nameSize <= 0 {
		return rar4FileHeader{method: method}, "", false
	}
	return rar4FileHeader{method: method}, string(b[off : off+nameSize]), true
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// --- RAR5 ---

const (
	rar5HeaderTypeFile   = 2
	rar5HeaderTypeCrypt  = 4
	rar5FileFlagDirectory = 0x0001
)

// classifyRAR5 walks RAR5 variable-length-integer-encoded block headers.
func classifyRAR5(b []byte) Status {
	sawNestedOnly := true
	sawAnyFile := false
	sawStoredVideo := false
	sawCompressed := false

	for len(b) > 4 {
		b = b[4:] // CRC32, not used for classification
		headerSize, n, ok := readVint(b)
		if !ok {
			break
		}
		b = b[n:]
		if int(headerSize) > len(b) || headerSize == 0 {
			break
		}
		header := b[:headerSize]
		rest := header

		headerType, n, ok := readVint(rest)
		if !ok {
			break
		}
		rest = rest[n:]

		headerFlags, n, ok := readVint(rest)
		if !ok {
			break
		}
		rest = rest[n:]

		if headerFlags&0x0001 != 0 { // extra area present
			if extraSize, n, ok := readVint(rest); ok {
				rest = rest[n:]
				_ = extraSize
			}
		}
		if headerFlags&0x0002 != 0 { // data area present
			if _, n, ok := readVint(rest); ok {
				rest = rest[n:]
			}
		}

		switch headerType {
		case rar5HeaderTypeCrypt:
			return StatusRarEncrypted
		case rar5HeaderTypeFile:
			fileFlags, n, ok := readVint(rest)
			if !ok {
				break
			}
			rest = rest[n:]
			if _, n, ok := readVint(rest); ok { // unpacked size
				rest = rest[n:]
			}
			if _, n, ok := readVint(rest); ok { // attributes
				rest = rest[n:]
			}
			if fileFlags&0x0002 != 0 && len(rest) >= 4 { // mtime present
				rest = rest[4:]
			}
			if fileFlags&0x0004 != 0 && len(rest) >= 4 { // data CRC present
				rest = rest[4:]
			}
			compressionInfo, n, ok := readVint(rest)
			if !ok {
				break
			}
			rest = rest[n:]
			if _, n, ok := readVint(rest); ok { // host OS
				rest = rest[n:]
			}
			nameLen, n, ok := readVint(rest)
			if !ok {
				break
			}
			rest = rest[n:]
			if int(nameLen) > len(rest) {
				break
			}
			name := string(rest[:nameLen])

			if fileFlags&rar5FileFlagDirectory != 0 {
				continue
			}
			sawAnyFile = true
			solid := compressionInfo&(1<<6) != 0
			if solid {
				return StatusRarSolid
			}
			method := (compressionInfo >> 7) & 0x7
			lowerName := strings.ToLower(name)
			isVideo := videoFileRe.MatchString(lowerName)
			isNested := nestedArchiveRe.MatchString(lowerName)
			if !isNested {
				sawNestedOnly = false
			}
			if method == 0 {
				if isVideo {
					sawStoredVideo = true
				}
			} else {
				sawCompressed = true
			}
		}

		b = b[headerSize:]
	}

	switch {
	case sawStoredVideo:
		return StatusRarStored
	case sawAnyFile && sawNestedOnly:
		return StatusRarNestedArchive
	case sawCompressed:
		return StatusRar5Unsupported
	case sawAnyFile:
		return StatusRarStored
	default:
		return StatusHeaderNotFound
	}
}

// readVint reads a RAR5-style little-endian base-128 varint: 7 data bits per
// byte, MSB set means "more bytes follow". Returns the decoded value, the
// number of bytes consumed, and whether decoding succeeded.
func readVint(b []byte) (uint64, int, bool) {
	var value uint64
	for i := 0; i < len(b) && i < 10; i++ {
		value |= uint64(b[i]&0x7F) << (7 * i)
		if b[i]&0x80 == 0 {
			return value, i + 1, true
		}
	}
	return 0, 0, false
}

// --- 7z ---

// classify7z inspects the 7z signature header and, when the sample is
// large enough to carry the whole archive, attempts a full decode via the
// sevenzip library to confirm per-coder store vs. compress classification.
// A partial sample (the common case: only the local segment was decoded)
// falls back to StatusSevenZipUntested, matching the spec's note that
// sniffing may be skipped for 7z when STAT already passed.
func classify7z(sample []byte) Status {
	r, err := sevenzip.NewReader(bytes.NewReader(sample), int64(len(sample)))
	if err != nil {
		return StatusSevenZipUntested
	}
	files, err := r.ListFilesWithOffsets()
	if err != nil || len(files) == 0 {
		return StatusSevenZipUntested
	}

	sawAnyVideo := false
	sawCompressed := false
	sawNestedOnly := true
	for _, f := range files {
		lowerName := strings.ToLower(f.Name)
		isVideo := videoFileRe.MatchString(lowerName)
		isNested := nestedArchiveRe.MatchString(lowerName)
		if !isNested {
			sawNestedOnly = false
		}
		if isVideo {
			sawAnyVideo = true
			if f.Compressed {
				sawCompressed = true
			}
		}
	}
	switch {
	case sawAnyVideo && !sawCompressed:
		return StatusSevenZipStored
	case sawNestedOnly:
		return StatusSevenZipNested
	default:
		return StatusSevenZipUnsupported
	}
}

// ConfirmRARViaDecode writes the sampled bytes to a scratch file and asks
// the vendored rardecode library to list the archive's file entries, and
// reports whether any listed entry is compressed (ok is false when the
// library cannot list the sample). rardecode's archive-info API
// is file-path based (it has to discover sibling volumes on disk), so a
// single in-memory decoded segment has to be staged through a temp file to
// use it at all; this is a confirmation aid only; on any error the manual
// classification from Sniff is authoritative.
func ConfirmRARViaDecode(sample []byte) (compressed bool, ok bool) {
	f, err := os.CreateTemp("", "nzbstream-archive-sniff-*.rar")
	if err != nil {
		return false, false
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := f.Write(sample); err != nil {
		return false, false
	}
	if err := f.Close(); err != nil {
		return false, false
	}

	infos, err := rardecode.ListArchiveInfo(f.Name())
	if err != nil || len(infos) == 0 {
		return false, false
	}
	for _, info := range infos {
		if info.Compressed {
			logger.Debug("archive sniff: rardecode confirms compression", "name", info.Name, "method", info.CompressionMethod)
			return true, true
		}
	}
	return false, true
}

// String satisfies fmt.Stringer for log-friendly formatting.
func (s Status) String() string { return string(s) }
