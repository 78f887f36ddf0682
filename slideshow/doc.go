// Package slideshow cycles the kiosk browser through an ordered list of pages.
//
// A Scheduler owns a single timer. Every tick sends the current page's URL and zoom
// factor to a Sender, re-arms the timer with the page's display duration and moves to
// the next page, wrapping around at the end of the list. The first tick runs
// synchronously inside Start.
//
// Restarting a running Scheduler cancels the previous cycle first, so there is never
// more than one armed timer. Timer callbacks carry the generation they were armed for
// and do nothing once the Scheduler was stopped or restarted.
package slideshow
