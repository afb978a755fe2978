/* SIS8300 clock configuration utility */
package main

import (
	"os"

	sis8300 "github.com/slaclab/go-sis8300/src"
)

func main() {
	os.Exit(sis8300.C109Main())
}
