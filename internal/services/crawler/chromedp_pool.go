package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// ChromeDPPool manages a fixed set of browser contexts.
// A browser is lent to one caller at a time, so the pool size caps concurrent page loads.
type ChromeDPPool struct {
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	available        chan int
	mu               sync.Mutex
	config           ChromeDPPoolConfig
	logger           arbor.ILogger
	initialized      bool
}

// ChromeDPPoolConfig holds configuration for the browser pool
type ChromeDPPoolConfig struct {
	MaxInstances   int
	UserAgent      string
	Headless       bool
	StartupTimeout time.Duration
}

// NewChromeDPPool creates an uninitialized pool
func NewChromeDPPool(config ChromeDPPoolConfig, logger arbor.ILogger) *ChromeDPPool {
	return &ChromeDPPool{
		config: config,
		logger: logger,
	}
}

// Init starts the browser instances. It fails only when no instance could be started.
func (p *ChromeDPPool) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("browser pool already initialized")
	}
	if p.config.MaxInstances <= 0 {
		return fmt.Errorf("max_instances must be greater than 0, got: %d", p.config.MaxInstances)
	}

	p.logger.Info().
		Int("pool_size", p.config.MaxInstances).
		Bool("headless", p.config.Headless).
		Msg("Initializing ChromeDP browser pool")

	var lastErr error
	for i := 0; i < p.config.MaxInstances; i++ {
		if err := p.createBrowserInstance(i); err != nil {
			lastErr = err
			p.logger.Warn().Err(err).Int("browser_index", i).Msg("Failed to create browser instance")
		}
	}

	if len(p.browsers) == 0 {
		return fmt.Errorf("failed to create any browser instances, last error: %w", lastErr)
	}
	if len(p.browsers) < p.config.MaxInstances {
		p.logger.Warn().
			Int("requested", p.config.MaxInstances).
			Int("created", len(p.browsers)).
			Msg("Created fewer browser instances than requested")
	}

	p.available = make(chan int, len(p.browsers))
	for i := range p.browsers {
		p.available <- i
	}
	p.initialized = true

	p.logger.Info().Int("browsers_created", len(p.browsers)).Msg("ChromeDP browser pool initialized")
	return nil
}

func (p *ChromeDPPool) createBrowserInstance(index int) error {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(p.config.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	timeout := p.config.StartupTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	testCtx, testCancel := context.WithTimeout(browserCtx, timeout)
	defer testCancel()

	// Starting the first tab launches the browser process
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser instance failed startup test: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)

	p.logger.Debug().
		Int("browser_index", index).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser instance created")
	return nil
}

// Acquire waits for a free browser. The returned release function must be called exactly once.
func (p *ChromeDPPool) Acquire(ctx context.Context) (context.Context, func(), error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("browser pool not initialized")
	}
	available := p.available
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case index := <-available:
		var once sync.Once
		release := func() {
			once.Do(func() { available <- index })
		}
		return p.browsers[index], release, nil
	}
}

// Size returns the number of running browsers
func (p *ChromeDPPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.browsers)
}

// IsInitialized returns whether the browser pool has been initialized
func (p *ChromeDPPool) IsInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// Shutdown stops every browser in the pool
func (p *ChromeDPPool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}

	count := len(p.browsers)
	for _, cancel := range p.browserCancels {
		cancel()
	}
	for _, cancel := range p.allocatorCancels {
		cancel()
	}

	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.initialized = false

	p.logger.Info().Int("browsers_shutdown", count).Msg("ChromeDP browser pool shut down")
	return nil
}
