package archive

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bgpkit-collab/bgparchive/internal/config"
)

// AlignedEpoch rounds timestamp down to the start of the bucket it falls
// in, using Euclidean remainder so the alignment is stable for negative
// timestamps as well as positive ones.
func AlignedEpoch(timestamp int64, intervalSecs uint32) int64 {
	interval := int64(intervalSecs)
	rem := timestamp % interval
	if rem < 0 {
		rem += interval
	}
	return timestamp - rem
}

// SegmentPathsFor computes the (tmp, final, relative) path triple for a
// segment covering the bucket containing timestamp, under the layout
// profile and compression codec named in cfg.
func SegmentPathsFor(cfg *config.ArchiveConfig, stream ArchiveStream, timestamp int64) (SegmentPaths, error) {
	var aligned int64
	switch stream {
	case StreamUpdates:
		aligned = AlignedEpoch(timestamp, cfg.UpdatesIntervalSecs)
	case StreamRibs:
		aligned = AlignedEpoch(timestamp, cfg.RibsIntervalSecs)
	default:
		return SegmentPaths{}, fmt.Errorf("%w: unknown stream %v", ErrLayout, stream)
	}

	dt := time.Unix(aligned, 0).UTC()

	yearMonth := fmt.Sprintf("%04d.%02d", dt.Year(), dt.Month())
	yyyymmdd := fmt.Sprintf("%04d%02d%02d", dt.Year(), dt.Month(), dt.Day())
	hhmm := fmt.Sprintf("%02d%02d", dt.Hour(), dt.Minute())
	ext := cfg.Compression.Extension()

	var relativePath string
	switch cfg.LayoutProfile {
	case config.LayoutProfileRouteViews:
		switch stream {
		case StreamUpdates:
			relativePath = fmt.Sprintf("%s/%s/UPDATES/updates.%s.%s.%s", cfg.CollectorID, yearMonth, yyyymmdd, hhmm, ext)
		case StreamRibs:
			relativePath = fmt.Sprintf("%s/%s/RIBS/rib.%s.%s.%s", cfg.CollectorID, yearMonth, yyyymmdd, hhmm, ext)
		}
	case config.LayoutProfileRis:
		switch stream {
		case StreamUpdates:
			relativePath = fmt.Sprintf("%s/%s/updates.%s.%s.%s", cfg.CollectorID, yearMonth, yyyymmdd, hhmm, ext)
		case StreamRibs:
			relativePath = fmt.Sprintf("%s/%s/bview.%s.%s.%s", cfg.CollectorID, yearMonth, yyyymmdd, hhmm, ext)
		}
	case config.LayoutProfileCustom:
		if cfg.CustomTemplates == nil {
			return SegmentPaths{}, fmt.Errorf("%w: custom layout profile requires archive.custom_templates", ErrLayout)
		}
		var template string
		switch stream {
		case StreamUpdates:
			template = cfg.CustomTemplates.Updates
		case StreamRibs:
			template = cfg.CustomTemplates.Ribs
		}
		rendered, err := buildCustomRelativePath(template, cfg.CollectorID, dt, ext)
		if err != nil {
			return SegmentPaths{}, err
		}
		relativePath = rendered
	default:
		return SegmentPaths{}, fmt.Errorf("%w: unknown layout profile %q", ErrLayout, cfg.LayoutProfile)
	}

	finalPath := filepath.Join(cfg.Root, filepath.FromSlash(relativePath))

	fileName := filepath.Base(relativePath)
	if fileName == "" || fileName == "." {
		return SegmentPaths{}, fmt.Errorf("%w: cannot derive temporary file name for archive segment", ErrLayout)
	}
	tmpFileName := "." + strings.ReplaceAll(strings.TrimPrefix(fileName, "."), "/", "_") + ".tmp"
	tmpRelative := filepath.Join(filepath.Dir(filepath.FromSlash(relativePath)), tmpFileName)
	tmpPath := filepath.Join(cfg.TmpRoot, tmpRelative)

	return SegmentPaths{
		TmpPath:      tmpPath,
		FinalPath:    finalPath,
		RelativePath: relativePath,
	}, nil
}

func buildCustomRelativePath(template, collector string, dt time.Time, ext string) (string, error) {
	if !strings.Contains(template, "{collector}") ||
		!strings.Contains(template, "{yyyymmdd}") ||
		!strings.Contains(template, "{hhmm}") {
		return "", fmt.Errorf("%w: custom template must contain {collector}, {yyyymmdd}, and {hhmm} tokens", ErrLayout)
	}

	yyyymmdd := fmt.Sprintf("%04d%02d%02d", dt.Year(), dt.Month(), dt.Day())
	hhmm := fmt.Sprintf("%02d%02d", dt.Hour(), dt.Minute())

	rendered := template
	rendered = strings.ReplaceAll(rendered, "{collector}", collector)
	rendered = strings.ReplaceAll(rendered, "{yyyy}", fmt.Sprintf("%04d", dt.Year()))
	rendered = strings.ReplaceAll(rendered, "{mm}", fmt.Sprintf("%02d", int(dt.Month())))
	rendered = strings.ReplaceAll(rendered, "{dd}", fmt.Sprintf("%02d", dt.Day()))
	rendered = strings.ReplaceAll(rendered, "{yyyymmdd}", yyyymmdd)
	rendered = strings.ReplaceAll(rendered, "{hhmm}", hhmm)
	rendered = strings.ReplaceAll(rendered, "{ext}", ext)

	if filepath.Ext(rendered) == "" {
		rendered = fmt.Sprintf("%s.%s", rendered, ext)
	}

	return rendered, nil
}
