package engine

import (
	"regexp"
	"sync"
)

// regexCache compiles each distinct pattern at most once. A failed compile
// is memoized too (as a nil *regexp.Regexp), so a malformed pattern in a
// hot rule doesn't re-pay the compile cost on every evaluation.
type regexCache struct {
	m sync.Map // pattern string -> *regexp.Regexp (nil on compile failure)
}

func newRegexCache() *regexCache {
	return &regexCache{}
}

func (c *regexCache) compile(pattern string) *regexp.Regexp {
	if v, ok := c.m.Load(pattern); ok {
		re, _ := v.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		c.m.Store(pattern, (*regexp.Regexp)(nil))
		return nil
	}
	c.m.Store(pattern, re)
	return re
}
