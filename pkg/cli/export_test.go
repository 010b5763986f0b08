package cli

var ParseGCSPath = parseGCSPath
