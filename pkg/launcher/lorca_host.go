package launcher

import (
	"context"
	"encoding/json"

	"github.com/core-tools/hsu-launcher-go/pkg/logging"

	"github.com/zserge/lorca"
)

// LorcaHost shows the backend's web UI in a Chrome app window. Closing the
// window, the quitApp binding, or an exit signal all count as an exit request.
type LorcaHost struct {
	url    string
	window WindowConfig
	logger logging.Logger
}

func NewLorcaHost(url string, window WindowConfig, logger logging.Logger) *LorcaHost {
	return &LorcaHost{
		url:    url,
		window: window,
		logger: logger,
	}
}

func (h *LorcaHost) Run(ctx context.Context, hooks Hooks) error {
	sig, stop := exitSignals()
	defer stop()

	received, err := interruptibleStartup(ctx, hooks, sig)
	if err != nil {
		return err
	}
	if received != nil {
		h.logger.Infof("Received signal during startup: %v", received)
		requestExit(hooks)
		return nil
	}

	ui, err := lorca.New(h.url, h.window.ProfileDir, h.window.Width, h.window.Height)
	if err != nil {
		h.logger.Warnf("Failed to open window, running without UI: %v", err)
		select {
		case receivedSignal := <-sig:
			h.logger.Infof("Received signal: %v", receivedSignal)
		case <-ctx.Done():
		}
		requestExit(hooks)
		return nil
	}

	if err := ui.Bind("quitApp", func() { ui.Close() }); err != nil {
		h.logger.Warnf("Failed to bind quitApp: %v", err)
	}

	if h.window.Title != "" {
		if err := ui.Eval(titleScript(h.window.Title)).Err(); err != nil {
			h.logger.Warnf("Failed to set window title: %v", err)
		}
	}

	h.logger.Infof("Window opened, url: %s", h.url)

	select {
	case <-ui.Done():
		h.logger.Infof("Window closed")
	case receivedSignal := <-sig:
		h.logger.Infof("Received signal: %v", receivedSignal)
	case <-ctx.Done():
		h.logger.Infof("Host context done")
	}

	if err := ui.Close(); err != nil {
		h.logger.Debugf("Window close: %v", err)
	}

	requestExit(hooks)
	return nil
}

func titleScript(title string) string {
	quoted, _ := json.Marshal(title)
	return "document.title = " + string(quoted)
}
