package target

import (
	"bufio"
	"fmt"
	"math"
	"math/rand/v2"
	"net/netip"
	"os"
	"strings"

	"github.com/pulsenet/pulsescan/internal/errors"
	"github.com/pulsenet/pulsescan/internal/logging"
	"github.com/pulsenet/pulsescan/internal/metrics"
)

// Source kinds reported by Kind and used as metric labels.
const (
	SourceRandom = "random"
	SourceCIDR   = "cidr"
	SourceFile   = "file"
)

// maxFilteredDraws bounds consecutive filtered draws before the random
// source declares itself exhausted. Reserved space is a small fraction
// of IPv4, so hitting this cap means the generator is not behaving.
const maxFilteredDraws = 64

// Source yields routable addresses one at a time until exhaustion.
// Implementations are not safe for concurrent use; a single admission
// goroutine drains them. A source is good for one run only.
type Source interface {
	// Next returns the next routable address, or false when the
	// source is exhausted.
	Next() (Address, bool)

	// Kind identifies the source type for logs and metrics.
	Kind() string

	// ParseErrors reports how many malformed input lines were skipped.
	ParseErrors() int

	// Filtered reports how many candidate addresses the routability
	// filter rejected.
	Filtered() int
}

// RandomSource draws uniformly random addresses, discarding reserved
// ones. Draws that hit a reserved range do not count against the
// budget; duplicates across draws are possible and accepted.
type RandomSource struct {
	remaining int
	filtered  int
}

// NewRandomSource returns a source producing count routable addresses.
func NewRandomSource(count int) *RandomSource {
	return &RandomSource{remaining: count}
}

// Next draws until a routable address is produced or the retry cap is
// hit.
func (s *RandomSource) Next() (Address, bool) {
	if s.remaining <= 0 {
		return 0, false
	}

	for tries := 0; tries < maxFilteredDraws; tries++ {
		a := Address(rand.Uint32())
		if !IsRoutable(a) {
			s.filtered++
			metrics.IncrementAddressesFiltered(SourceRandom)
			continue
		}
		s.remaining--
		return a, true
	}

	logging.WarnSource("random source hit filtered-draw cap", SourceRandom,
		"cap", maxFilteredDraws)
	s.remaining = 0
	return 0, false
}

// Kind implements Source.
func (s *RandomSource) Kind() string { return SourceRandom }

// ParseErrors implements Source.
func (s *RandomSource) ParseErrors() int { return 0 }

// Filtered implements Source.
func (s *RandomSource) Filtered() int { return s.filtered }

// Range is an inclusive span of IPv4 addresses.
type Range struct {
	First Address
	Last  Address
}

// Size returns the number of addresses in the range.
func (r Range) Size() uint64 {
	return uint64(r.Last) - uint64(r.First) + 1
}

// ParseCIDR parses an IPv4 CIDR into its inclusive address range. The
// network and broadcast addresses are included; a /32 is one address.
func ParseCIDR(s string) (Range, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(s))
	if err != nil {
		return Range{}, fmt.Errorf("invalid CIDR %q: %w", s, err)
	}
	if !prefix.Addr().Is4() {
		return Range{}, fmt.Errorf("not an IPv4 CIDR: %q", s)
	}

	first := uint32(FromNetip(prefix.Masked().Addr()))
	hostMask := uint32(math.MaxUint32) >> uint(prefix.Bits())
	return Range{First: Address(first), Last: Address(first | hostMask)}, nil
}

// CIDRSource enumerates every address of one or more ranges in
// ascending numeric order, range by range in the listed order. The
// draw budget does not apply; a CIDR run covers the full ranges.
type CIDRSource struct {
	ranges   []Range
	idx      int
	cur      uint32
	started  bool
	filtered int
}

// NewCIDRSource parses the given CIDR specs into an enumeration
// source.
func NewCIDRSource(specs []string) (*CIDRSource, error) {
	if len(specs) == 0 {
		return nil, errors.NewSourceError(errors.CodeCIDRInvalid, "no CIDR ranges given", "")
	}

	ranges := make([]Range, 0, len(specs))
	for _, spec := range specs {
		r, err := ParseCIDR(spec)
		if err != nil {
			return nil, errors.ErrInvalidCIDR(spec, err)
		}
		ranges = append(ranges, r)
	}

	return &CIDRSource{ranges: ranges}, nil
}

// Next walks the current range upward, skipping reserved addresses,
// and moves to the next range on exhaustion.
func (s *CIDRSource) Next() (Address, bool) {
	for s.idx < len(s.ranges) {
		r := s.ranges[s.idx]
		if !s.started {
			s.cur = uint32(r.First)
			s.started = true
		}

		for {
			a := Address(s.cur)
			atEnd := s.cur == uint32(r.Last)
			if atEnd {
				// Advance before the increment could wrap at
				// 255.255.255.255.
				s.idx++
				s.started = false
			} else {
				s.cur++
			}

			if IsRoutable(a) {
				return a, true
			}
			s.filtered++
			metrics.IncrementAddressesFiltered(SourceCIDR)

			if atEnd {
				break
			}
		}
	}

	return 0, false
}

// Kind implements Source.
func (s *CIDRSource) Kind() string { return SourceCIDR }

// ParseErrors implements Source.
func (s *CIDRSource) ParseErrors() int { return 0 }

// Filtered implements Source.
func (s *CIDRSource) Filtered() int { return s.filtered }

// TotalAddresses returns the unfiltered size of all ranges, used for
// progress estimation.
func (s *CIDRSource) TotalAddresses() uint64 {
	var total uint64
	for _, r := range s.ranges {
		total += r.Size()
	}
	return total
}

// FileSource reads literal addresses from a file, one per line, in
// file order. Blank lines and '#' comments are ignored; malformed
// lines are skipped and counted, not fatal.
type FileSource struct {
	path      string
	file      *os.File
	scanner   *bufio.Scanner
	line      int
	parseErrs int
	filtered  int
	done      bool
}

// NewFileSource opens the file for lazy line-by-line reading. An
// unreadable file is a configuration error.
func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path) // #nosec G304 - address file path comes from the operator
	if err != nil {
		return nil, errors.ErrAddressFile(path, err)
	}

	return &FileSource{
		path:    path,
		file:    f,
		scanner: bufio.NewScanner(f),
	}, nil
}

// Next scans forward to the next routable address, counting malformed
// lines along the way. The file is closed once fully consumed.
func (s *FileSource) Next() (Address, bool) {
	if s.done {
		return 0, false
	}

	for s.scanner.Scan() {
		s.line++
		text := strings.TrimSpace(s.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		addr, err := ParseAddress(text)
		if err != nil {
			s.parseErrs++
			metrics.IncrementSourceParseErrors(SourceFile)
			logging.WarnSource("skipping malformed address line", SourceFile,
				"path", s.path, "line", s.line, "input", text)
			continue
		}

		if !IsRoutable(addr) {
			s.filtered++
			metrics.IncrementAddressesFiltered(SourceFile)
			continue
		}

		return addr, true
	}

	s.done = true
	_ = s.file.Close()
	return 0, false
}

// Kind implements Source.
func (s *FileSource) Kind() string { return SourceFile }

// ParseErrors implements Source.
func (s *FileSource) ParseErrors() int { return s.parseErrs }

// Filtered implements Source.
func (s *FileSource) Filtered() int { return s.filtered }

// Close releases the underlying file. Safe to call after exhaustion.
func (s *FileSource) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.file.Close()
}
