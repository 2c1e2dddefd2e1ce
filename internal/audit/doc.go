// Package audit persists session events so connect attempts, hop failures
// and every command run through a session can be reviewed later.
//
// An Auditor is a shell.EventSink. Records older than the retention period
// are removed by a daily cron job started with StartPurgeJob.
package audit
