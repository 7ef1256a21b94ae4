// Package thread runs the conversation state machine.
//
// Inbound replies are classified, appended to their thread, and drive
// the transitions: unsubscribe and not-interested resolve the thread as
// rejected and suppress the lead, interested keeps the conversation open
// for a human, and a recorded meeting converts the lead and binds it to
// the tenant permanently.
//
// Classification cascades: a cheap model first, the premium model for
// low-confidence replies, and a keyword matcher when no model is wired.
// Classifiers are stateless and safe to retry.
package thread
