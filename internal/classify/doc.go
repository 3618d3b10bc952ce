// Package classify inspects one produced utterance and decides what the conversation
// engine does with it.
//
// Rules are applied in order:
//
//  1. Blank text is Service.
//  2. Speaker-selection chatter ("Next speaker: ...") and text made only of "##"
//     routing lines is Service.
//  3. The termination token (TERMINATE, any case, anywhere) makes it Termination.
//     The payload is the text with every occurrence removed and trimmed; an empty
//     payload is valid.
//  4. Anything else is Content with the trimmed text as payload.
//
// Content and Termination results carry a Hint. Text containing an execution banner
// or an exit-status marker is HintExecution so frontends can present program output
// apart from analysis. The hint never changes engine behaviour.
package classify
