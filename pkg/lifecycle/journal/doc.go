// Package journal records every lifecycle action a cycle takes, including
// the ones it fails or skips, so operators can answer "what happened to
// api-000042 and when".
//
// Two backends are provided. MemoryJournal is the default; SQLiteJournal
// persists entries to a file and survives restarts. Pruner removes entries
// older than a retention period, optionally on a cron schedule.
package journal
