package internal

/*
	event --> raw Flag bits reported for a path and the ChangeType they map to.
	classify --> ordered rule table, first matching rule wins, Updated otherwise.
	dispatcher --> classifies a raw batch and calls the Notifier once per batch.
	watcher --> fsnotify backed Watch over a directory subtree, batches raw
	            notifications and feeds them to its dispatcher.

	** Usage
	1 - create a watch over a root path with a Notifier.
	2 - handle (numEvents, types, paths) batches; on RescanFolder re-enumerate the subtree.
	3 - stop the watch, no batch is delivered once Stop returns.
*/
