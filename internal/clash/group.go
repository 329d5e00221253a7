package clash

import (
	"context"
	"fmt"
)

// ProxyGetter is the part of Client that Candidates needs.
type ProxyGetter interface {
	GetProxy(ctx context.Context, name string) (Proxy, error)
}

// Candidates lists the relays of group and the ones that are not reported
// dead. A relay whose detail cannot be fetched is kept as alive. current is
// the relay the group selects now, possibly empty.
func Candidates(ctx context.Context, c ProxyGetter, group string) (all, alive []string, current string, err error) {
	info, err := c.GetProxy(ctx, group)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to read group %s: %w", group, err)
	}
	if len(info.All) == 0 {
		return nil, nil, info.Now, fmt.Errorf("group %s: %w", group, ErrNoCandidates)
	}

	alive = make([]string, 0, len(info.All))
	for _, name := range info.All {
		if err := ctx.Err(); err != nil {
			return nil, nil, "", err
		}
		detail, err := c.GetProxy(ctx, name)
		if err == nil && detail.Alive != nil && !*detail.Alive {
			continue
		}
		alive = append(alive, name)
	}
	if len(alive) == 0 {
		return info.All, nil, info.Now, fmt.Errorf("group %s: every relay is down: %w", group, ErrNoCandidates)
	}
	return info.All, alive, info.Now, nil
}
