package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// 全局单例 + once
var (
	defaultChain *Chain
	once         sync.Once
)

// Chain holds engine-wide middlewares that may be added after routes are mounted.
type Chain struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewChain(mids ...gin.HandlerFunc) *Chain {
	return &Chain{mids: mids}
}

// Default returns the process-wide chain.
func Default() *Chain {
	once.Do(func() { defaultChain = NewChain() })
	return defaultChain
}

func (ch *Chain) Add(h gin.HandlerFunc) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.mids = append(ch.mids, h)
}

func (ch *Chain) Len() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.mids)
}

// Handler runs a snapshot of the chain in order and stops at the first abort.
func (ch *Chain) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ch.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, ch.mids...) // 拷贝一份快照
		ch.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
