package scheduler

// Tick runs the wrapped dispatch job as cron would.
func (s *Scheduler) Tick() { s.cycle.Run() }

// SweepNow runs the wrapped sweep job as cron would.
func (s *Scheduler) SweepNow() { s.sweep.Run() }
