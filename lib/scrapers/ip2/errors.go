package ip2

import "fmt"

var NotFound = fmt.Errorf("no entity found with the given name")

var SearchNotRun = fmt.Errorf("no search has been run for this experiment")
