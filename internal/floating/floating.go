// Package floating handles services that track mutable image tags such
// as latest or nightly. Those tags can move upstream without any commit
// to the watched repository, so they are refreshed on a timer instead of
// on repo changes.
package floating

import (
	"context"
	"fmt"
	"sort"
	"time"

	composetypes "github.com/compose-spec/compose-go/v2/types"
	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"

	"github.com/composewatch/composewatch/internal/compose"
)

// Service is one stack service whose image reference carries a floating tag.
type Service struct {
	Name  string
	Image string
	Tag   string
}

// Result describes the outcome of a refresh pass.
type Result struct {
	Updated   []Service
	Recreated bool
}

// Scan returns the services whose image reference ends in one of the
// given tags, sorted by service name. References that do not parse and
// references without a textual tag (digest-pinned or untagged) are not
// floating.
func Scan(project *composetypes.Project, tags []string) []Service {
	floating := make(map[string]bool, len(tags))
	for _, t := range tags {
		floating[t] = true
	}

	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	var services []Service
	for _, name := range names {
		svc := project.Services[name]
		if svc.Image == "" {
			continue
		}
		ref, err := reference.ParseNormalizedNamed(svc.Image)
		if err != nil {
			continue
		}
		tagged, ok := ref.(reference.Tagged)
		if !ok {
			continue
		}
		if floating[tagged.Tag()] {
			services = append(services, Service{Name: name, Image: svc.Image, Tag: tagged.Tag()})
		}
	}
	return services
}

// Due reports whether a refresh pass should run now. A zero interval
// disables refreshing entirely; a zero lastPull means no refresh was
// ever recorded and one is immediately due.
func Due(hasFloating bool, lastPull time.Time, interval time.Duration, now time.Time) bool {
	if !hasFloating || interval <= 0 {
		return false
	}
	return now.Sub(lastPull) >= interval
}

// Refresh pulls current images and recreates the stack when at least one
// floating service would run a different image than it currently does. A
// service counts as updated only when both its running image identifier
// and the freshly pulled identifier resolve to digests and those differ;
// anything unresolvable (service not running, image never pulled) is
// skipped rather than guessed at.
func Refresh(ctx context.Context, rt compose.Runtime, services []Service) (*Result, error) {
	if err := rt.Pull(ctx); err != nil {
		return nil, fmt.Errorf("floating refresh pull failed: %w", err)
	}

	result := &Result{}
	for _, svc := range services {
		containerID, err := rt.ServiceContainer(ctx, svc.Name)
		if err != nil {
			return nil, err
		}
		if containerID == "" {
			continue
		}

		runningID, err := rt.ContainerImageID(ctx, containerID)
		if err != nil {
			return nil, err
		}

		localIDs, err := rt.LocalImageIDs(ctx, svc.Image)
		if err != nil {
			return nil, err
		}
		if len(localIDs) == 0 {
			continue
		}
		freshID := localIDs[0]

		running, err := digest.Parse(runningID)
		if err != nil {
			continue
		}
		fresh, err := digest.Parse(freshID)
		if err != nil {
			continue
		}

		if running != fresh {
			result.Updated = append(result.Updated, svc)
		}
	}

	if len(result.Updated) > 0 {
		if err := rt.Up(ctx, compose.UpOptions{}); err != nil {
			return nil, fmt.Errorf("floating refresh recreate failed: %w", err)
		}
		result.Recreated = true
	}

	return result, nil
}
