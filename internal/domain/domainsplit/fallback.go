package domainsplit

import (
	"context"
	"strconv"

	"github.com/turtacn/progres-go/internal/domain/structure"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
)

// DefaultMinDomainResidues is the smallest domain kept by FallbackSplitter.
const DefaultMinDomainResidues = 20

// Fallback reasons reported by FallbackSplitter.Split.
const (
	ReasonNone           = ""
	ReasonError          = "segmenter_error"
	ReasonNoDomains      = "no_domains"
	ReasonInvalidDomains = "invalid_domains"
	ReasonAllTooSmall    = "all_domains_too_small"
	ReasonEmptyStructure = "empty_structure"
)

// FallbackSplitter wraps a Segmenter so that splitting never fails. When the
// segmenter errors, finds nothing, returns out-of-range or overlapping
// domains, or finds only domains shorter than MinDomainResidues, the whole
// structure becomes one domain.
type FallbackSplitter struct {
	Segmenter         Segmenter
	MinDomainResidues int
	Logger            logging.Logger
}

func NewFallbackSplitter(seg Segmenter, minDomainResidues int, logger logging.Logger) *FallbackSplitter {
	if minDomainResidues <= 0 {
		minDomainResidues = DefaultMinDomainResidues
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FallbackSplitter{Segmenter: seg, MinDomainResidues: minDomainResidues, Logger: logger}
}

func (f *FallbackSplitter) Name() string { return "fallback(" + f.Segmenter.Name() + ")" }

// Settings renders everything that shapes the split: the segmenter and its
// parameters plus the minimum domain size. Segmenters without a Settings
// method contribute their name.
func (f *FallbackSplitter) Settings() string {
	inner := f.Segmenter.Name()
	if s, ok := f.Segmenter.(interface{ Settings() string }); ok {
		inner = s.Settings()
	}
	return inner + ",min_domain_residues=" + strconv.Itoa(f.MinDomainResidues)
}

// Segment implements Segmenter. The returned error is always nil unless ctx
// is done.
func (f *FallbackSplitter) Segment(ctx context.Context, s *structure.Structure) ([]Domain, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	domains, _ := f.split(ctx, s)
	return domains, nil
}

// Split segments s and returns an iterator over its domains together with
// the fallback reason, which is ReasonNone when the segmenter's domains
// were used.
func (f *FallbackSplitter) Split(ctx context.Context, s *structure.Structure) (*Domains, string) {
	domains, reason := f.split(ctx, s)
	return NewDomains(s, domains), reason
}

func (f *FallbackSplitter) split(ctx context.Context, s *structure.Structure) ([]Domain, string) {
	n := s.Len()
	log := f.Logger.With(logging.Path(s.Path), logging.String("segmenter", f.Segmenter.Name()))
	if n == 0 {
		return nil, ReasonEmptyStructure
	}

	found, err := f.Segmenter.Segment(ctx, s)
	if err != nil {
		log.Warn("domain segmentation failed, using whole structure", logging.Err(err))
		return []Domain{Whole(n)}, ReasonError
	}
	if len(found) == 0 {
		log.Warn("no domains found, using whole structure")
		return []Domain{Whole(n)}, ReasonNoDomains
	}
	if err := CheckDomains(found, n); err != nil {
		log.Warn("segmenter returned invalid domains, using whole structure", logging.Err(err))
		return []Domain{Whole(n)}, ReasonInvalidDomains
	}

	kept := make([]Domain, 0, len(found))
	for _, d := range found {
		if d.Size() < f.MinDomainResidues {
			log.Debug("dropping short domain",
				logging.String("chopping", d.Chopping()), logging.Int("residues", d.Size()))
			continue
		}
		d.Index = len(kept)
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		log.Warn("all domains below minimum size, using whole structure",
			logging.Int("min_domain_residues", f.MinDomainResidues))
		return []Domain{Whole(n)}, ReasonAllTooSmall
	}
	return kept, ReasonNone
}
