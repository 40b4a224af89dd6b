package crash

// Marker tables for locating a crash report inside raw fuzz-engine output.
// Both lists are ordered preference lists: the scan walks each list top to
// bottom and the first marker present anywhere in the output wins.

// startMarkers open a crash report (sanitizer or engine banners).
var startMarkers = [][]byte{
	[]byte("AddressSanitizer"),
	[]byte("ASAN:"),
	[]byte("CFI: Most likely a control flow integrity violation;"),
	[]byte("ERROR: libFuzzer"),
	[]byte("KASAN:"),
	[]byte("LeakSanitizer"),
	[]byte("MemorySanitizer"),
	[]byte("ThreadSanitizer"),
	[]byte("UndefinedBehaviorSanitizer"),
	[]byte("UndefinedSanitizer"),
}

// endMarkers terminate a crash report.
var endMarkers = [][]byte{
	[]byte("ABORTING"),
	[]byte("END MEMORY TOOL REPORT"),
	[]byte("End of process memory map."),
	[]byte("END_KASAN_OUTPUT"),
	[]byte("SUMMARY:"),
	[]byte("Shadow byte and word"),
	[]byte("[end of stack trace]"),
	[]byte("\nExiting"),
	[]byte("minidump has been written"),
}
