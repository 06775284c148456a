// Package watch provides shallow filesystem subscriptions for kcsync. A
// subscription owns one fsnotify watcher for one configured path, filters
// out editor temporary files, debounces rapid writes per file and reports
// normalized add, change and unlink events for the path's child files.
package watch
