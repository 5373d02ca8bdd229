// Package procedure provides the data structures for clinical procedure
// definitions and the document-level operations run on them before storage.
//
// A procedure is an XML form definition:
//
//	<Procedure title="HIV Screening" author="Sana" uuid="…">
//	  <Page>
//	    <Element type="RADIO" id="hivTestedBefore" question="…" />
//	  </Page>
//	</Procedure>
//
// Before a document is stored, the "Find Patient" preamble pages are
// inserted as the first children of <Procedure> (see Preamble.Inject), and
// the result is parsed (see Parse) to obtain the title, author and GUID the
// store and the dedup resolver work with.
package procedure
