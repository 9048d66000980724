// Package scheduler provides the notification gateway the reminder and cooking services hand trigger times to.
// It defines the Gateway port and a local implementation that keeps daily recurring entries on a cron
// and one-shot entries on timers, delivering fired payloads to a Deliverer.
package scheduler
