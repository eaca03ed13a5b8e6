package service

// Package service is the OS-facing glue around the executor: the background
// daemon loop and the per-user service installer.
//
// The Daemon owns an event loop multiplexing three concerns:
//  1. Trigger requests (manual or from the gocron timer) - runAll executes
//     every enabled job from the registry.
//  2. Timer schedule - in timer mode a gocron job calls Trigger on the
//     configured cron expression or ISO-8601 interval.
//  3. Context cancellation - terminates the loop; in-flight runs are
//     cancelled through the executor's terminate/grace/kill escalation.
//
// Modes:
//   - manual (oneshot): all enabled jobs run once, the first failure is
//     returned.
//   - timer: failures are only logged, the loop runs until ctx cancels.
//
// The installer generates a launchd agent plist on darwin or a systemd user
// unit on linux, both pointing at "pem serve", and drives launchctl or
// systemctl --user. Other platforms are rejected.
