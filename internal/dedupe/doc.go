// Package dedupe remembers recently delivered message keys so a retried request
// does not resend the same message to a gateway session.
package dedupe
