// Package loader defines formula sets from YAML files and keeps them in sync
// as the files change.
//
// Every *.yaml or *.yml file under the configured directory holds a list of
// definitions (see File). A set is owned by the file that defines it: editing
// the file redefines its sets, dropping an entry or deleting the file deletes
// them, and two files may not define the same id.
//
//	l := loader.NewLoader("/etc/lightingbi/formulas", eng, log)
//	if _, err := l.LoadAll(ctx); err != nil {
//		log.Warn(err)
//	}
//	if err := l.Start(ctx); err != nil {
//		return err
//	}
//	defer l.Close()
package loader
