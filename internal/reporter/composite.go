package reporter

// CompositeReporter fans out events to multiple reporters, e.g. a
// TerminalReporter for the operator and a JSONReporter for a log sink.
type CompositeReporter struct {
	reporters []Reporter
}

// NewCompositeReporter creates a composite reporter.
func NewCompositeReporter(reporters ...Reporter) *CompositeReporter {
	return &CompositeReporter{reporters: reporters}
}

func (c *CompositeReporter) DiscoveryStarted(directory string) {
	for _, r := range c.reporters {
		r.DiscoveryStarted(directory)
	}
}

func (c *CompositeReporter) DiscoveryFinished(stats DiscoveryStats) {
	for _, r := range c.reporters {
		r.DiscoveryFinished(stats)
	}
}

func (c *CompositeReporter) JobStarted(sourcePath, outputPath string) {
	for _, r := range c.reporters {
		r.JobStarted(sourcePath, outputPath)
	}
}

func (c *CompositeReporter) JobProgress(sourcePath string, percent float32) {
	for _, r := range c.reporters {
		r.JobProgress(sourcePath, percent)
	}
}

func (c *CompositeReporter) JobCompleted(sourcePath, outputPath string, bytesIn, bytesOut int64) {
	for _, r := range c.reporters {
		r.JobCompleted(sourcePath, outputPath, bytesIn, bytesOut)
	}
}

func (c *CompositeReporter) JobFailed(sourcePath, message string) {
	for _, r := range c.reporters {
		r.JobFailed(sourcePath, message)
	}
}

func (c *CompositeReporter) JobHWCap(sourcePath, message string) {
	for _, r := range c.reporters {
		r.JobHWCap(sourcePath, message)
	}
}

func (c *CompositeReporter) JobInterrupted(sourcePath string) {
	for _, r := range c.reporters {
		r.JobInterrupted(sourcePath)
	}
}

func (c *CompositeReporter) QueueUpdated(preview []string, total int) {
	for _, r := range c.reporters {
		r.QueueUpdated(preview, total)
	}
}

func (c *CompositeReporter) ActionMessage(text string) {
	for _, r := range c.reporters {
		r.ActionMessage(text)
	}
}

func (c *CompositeReporter) Warning(message string) {
	for _, r := range c.reporters {
		r.Warning(message)
	}
}

func (c *CompositeReporter) RunComplete(summary RunSummary) {
	for _, r := range c.reporters {
		r.RunComplete(summary)
	}
}
