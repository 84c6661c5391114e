package commands

import (
	"fmt"
	"strconv"

	"git.home.luguber.info/inful/imbed/internal/cache"
)

// CacheCmd implements 'cache stats|verify|clear'.
type CacheCmd struct {
	Stats  CacheStatsCmd  `cmd:"" help:"Show cache size and usage"`
	Verify CacheVerifyCmd `cmd:"" help:"Drop stale index entries and report orphaned directories"`
	Clear  CacheClearCmd  `cmd:"" help:"Delete every cache entry"`
}

func openCache(g *Global, root *CLI) (*cache.Manager, error) {
	cfg, err := root.loadConfig()
	if err != nil {
		return nil, err
	}
	return cache.New(cfg.BaseDir(), cache.Options{Capacity: cfg.Cache.Capacity, Logger: g.logger()})
}

type CacheStatsCmd struct{}

func (c *CacheStatsCmd) Run(g *Global, root *CLI) error {
	cm, err := openCache(g, root)
	if err != nil {
		return err
	}
	s, err := cm.Stats()
	if err != nil {
		return err
	}
	out := g.stdout()
	table := renderTable(
		[]string{"Directory", "Entries", "Capacity", "Bytes"},
		[][]string{{s.Dir, strconv.Itoa(s.Entries), strconv.Itoa(s.Capacity), strconv.FormatInt(s.Bytes, 10)}},
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
		shouldColorize(out),
	)
	_, err = fmt.Fprintln(out, table)
	return err
}

type CacheVerifyCmd struct {
	Fix bool `help:"Delete orphaned entry directories"`
}

func (c *CacheVerifyCmd) Run(g *Global, root *CLI) error {
	cm, err := openCache(g, root)
	if err != nil {
		return err
	}
	stale, err := cm.Sweep()
	if err != nil {
		return err
	}
	orphans, err := cm.Orphans()
	if err != nil {
		return err
	}
	out := g.stdout()
	for _, key := range stale {
		_, _ = fmt.Fprintf(out, "stale %s\n", key)
	}
	for _, key := range orphans {
		action := "orphan"
		if c.Fix {
			if err := cm.DeleteEntry(key); err != nil {
				return err
			}
			action = "removed"
		}
		_, _ = fmt.Fprintf(out, "%s %s\n", action, key)
	}
	_, err = fmt.Fprintf(out, "%d stale, %d orphaned\n", len(stale), len(orphans))
	return err
}

type CacheClearCmd struct{}

func (c *CacheClearCmd) Run(g *Global, root *CLI) error {
	cm, err := openCache(g, root)
	if err != nil {
		return err
	}
	if err := cm.Clear(); err != nil {
		return err
	}
	g.logger().Info("Cache cleared", "dir", cm.Dir())
	return nil
}
